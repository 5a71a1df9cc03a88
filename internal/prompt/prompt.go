// Package prompt builds the interviewer system prompt.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

//go:embed system.md
var systemTemplate string

// WelcomeMessage opens every interview. It is stored as the first
// assistant entry of the history so the model sees what the participant saw.
const WelcomeMessage = `Hoi! 👋 Leuk dat je meedoet!

Ik ben de AI-assistent van JW en ik help hem feedback te verzamelen over de AI-training die je hebt gevolgd.

**Hoe werkt dit interview?**
- We hebben een informeel gesprek over je ervaringen
- Ik stel vragen over verschillende onderdelen van de training
- Voordat ik iets vastleg, check ik even of ik het goed begrepen heb
- Je kunt op elk moment pauzeren en later verder gaan

Het gesprek duurt ongeveer 10-15 minuten, afhankelijk van hoeveel je wilt delen.

Laten we beginnen! Kun je me eerst vertellen: had je al ervaring met AI-tools zoals ChatGPT vóórdat je deze training volgde?`

// Builder renders the system prompt for the current progress.
type Builder struct {
	base string
}

// NewBuilder renders the static part of the prompt once.
func NewBuilder(reg *topic.Registry) *Builder {
	var list strings.Builder
	for i, t := range reg.Topics() {
		fmt.Fprintf(&list, "%d. **%s** - %s\n", i+1, t.ToolName(), t.Title)
	}
	base := strings.Replace(systemTemplate, "{{TOOLS}}", strings.TrimRight(list.String(), "\n"), 1)
	return &Builder{base: strings.TrimSpace(base)}
}

// System returns the base prompt, followed by a progress reminder once at
// least one topic has been recorded.
func (b *Builder) System(completed, remaining []string) string {
	if len(completed) == 0 {
		return b.base
	}
	var sb strings.Builder
	sb.WriteString(b.base)
	sb.WriteString("\n\n## Huidige Voortgang\n")
	fmt.Fprintf(&sb, "Je hebt al feedback verzameld over: %s\n", strings.Join(completed, ", "))
	if len(remaining) > 0 {
		fmt.Fprintf(&sb, "Nog te behandelen: %s\n", strings.Join(remaining, ", "))
	} else {
		sb.WriteString("Alle onderwerpen zijn behandeld. Rond het gesprek af.\n")
	}
	sb.WriteString("\nFocus op de resterende onderwerpen, maar als de deelnemer terug wil komen op een eerder onderwerp, sta dat toe.")
	return sb.String()
}
