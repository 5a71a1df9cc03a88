// Command interviewctl administers invite codes and inspects interviews.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/deep-interviewer/internal/config"
	"github.com/tjfontaine/deep-interviewer/internal/runtime"
	"github.com/tjfontaine/deep-interviewer/internal/session"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

type globalFlags struct {
	configPath string
	json       bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "interviewctl",
		Short:         "Administer invite codes and inspect interviews",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultPath, "path to config.yaml (optional)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output JSON")

	root.AddCommand(inviteCmd(g))
	root.AddCommand(sessionsCmd(g))
	root.AddCommand(resultsCmd(g))
	return root
}

func inviteCmd(g *globalFlags) *cobra.Command {
	inv := &cobra.Command{Use: "invite", Short: "Manage invite codes"}
	inv.AddCommand(inviteCreateCmd(g))
	inv.AddCommand(inviteListCmd(g))
	return inv
}

func inviteCreateCmd(g *globalFlags) *cobra.Command {
	var (
		codeType string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create invite codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return withStore(cmd.Context(), g, func(ctx context.Context, s storage.Store) error {
				created := make([]storage.Invite, 0, count)
				for range count {
					inv, err := s.CreateInvite(ctx, codeType)
					if err != nil {
						return err
					}
					created = append(created, *inv)
				}
				return renderInvites(cmd.OutOrStdout(), g, created)
			})
		},
	}
	cmd.Flags().StringVar(&codeType, "type", "", "code type, e.g. workshop")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of codes to create")
	return cmd
}

func inviteListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List invite codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), g, func(ctx context.Context, s storage.Store) error {
				invites, err := s.ListInvites(ctx)
				if err != nil {
					return err
				}
				return renderInvites(cmd.OutOrStdout(), g, invites)
			})
		},
	}
}

func sessionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List interview sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), g, func(ctx context.Context, s storage.Store) error {
				sessions, err := s.ListSessions(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, sessions)
				}
				tw := newTable(out)
				tw.AppendHeader(table.Row{"ID", "Invite", "Complete", "Created", "Updated"})
				for _, si := range sessions {
					tw.AppendRow(table.Row{si.ID, si.InviteCode, si.IsComplete, formatTime(si.CreatedAt), formatTime(si.UpdatedAt)})
				}
				tw.AppendFooter(table.Row{"", "", "", "Total", len(sessions)})
				tw.Render()
				return nil
			})
		},
	}
}

func resultsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "results <session-id>",
		Short: "Show the results of a completed interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), g, func(ctx context.Context, s storage.Store) error {
				svc := session.New(s, topic.MustDefault(), nil)
				res, err := svc.Results(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, res)
				}
				tw := newTable(out)
				tw.SetTitle("Interview " + res.SessionID)
				tw.AppendHeader(table.Row{"Topic", "Question", "Answer", "Source"})
				for _, tr := range res.Responses {
					for _, f := range tr.Fields {
						tw.AppendRow(table.Row{tr.Title, f.Label, formatValue(f.Value), tr.Source})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
}

func withStore(ctx context.Context, g *globalFlags, fn func(context.Context, storage.Store) error) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		return fmt.Errorf("storage.driver memory keeps no data between runs; configure sqlite or postgres")
	}
	s, err := runtime.OpenStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer s.Close()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, s)
}

func renderInvites(out io.Writer, g *globalFlags, invites []storage.Invite) error {
	if g.json {
		return printJSON(out, invites)
	}
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Code", "Type", "Session", "Created", "Used"})
	for _, inv := range invites {
		used := ""
		if inv.UsedAt != nil {
			used = formatTime(*inv.UsedAt)
		}
		tw.AppendRow(table.Row{inv.Code, inv.CodeType, inv.SessionID, formatTime(inv.CreatedAt), used})
	}
	tw.Render()
	return nil
}

func newTable(out io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	return tw
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = formatValue(p)
		}
		return strings.Join(parts, "; ")
	case bool:
		if val {
			return "ja"
		}
		return "nee"
	default:
		return fmt.Sprint(val)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
