// Package controlplane serves operator endpoints: process statistics and
// interview counts.
package controlplane

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/deep-interviewer/internal/codec"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
)

// Lister is the subset of storage.Store the stats endpoint reads.
type Lister interface {
	ListSessions(ctx context.Context) ([]storage.SessionInfo, error)
	ListInvites(ctx context.Context) ([]storage.Invite, error)
}

type Server struct {
	store     Lister
	logger    *slog.Logger
	startTime time.Time
}

func NewServer(store Lister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Routes mounts the control plane under /api/admin.
func (s *Server) Routes(r chi.Router) {
	r.Get("/api/admin/stats", s.handleStats)
}

type StatsResponse struct {
	Uptime       string         `json:"uptime"`
	GoVersion    string         `json:"go_version"`
	NumGoroutine int            `json:"num_goroutine"`
	Memory       MemoryStats    `json:"memory"`
	Interviews   InterviewStats `json:"interviews"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

type InterviewStats struct {
	Sessions      int `json:"sessions"`
	Completed     int `json:"completed"`
	Invites       int `json:"invites"`
	UnusedInvites int `json:"unused_invites"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.interviewStats(r.Context())
	if err != nil {
		s.logger.Error("failed to collect interview stats", slog.String("error", err.Error()))
		codec.WriteError(w, err)
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	codec.WriteJSON(w, StatsResponse{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Interviews: counts,
	})
}

func (s *Server) interviewStats(ctx context.Context) (InterviewStats, error) {
	var st InterviewStats
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return st, err
	}
	st.Sessions = len(sessions)
	for _, si := range sessions {
		if si.IsComplete {
			st.Completed++
		}
	}

	invites, err := s.store.ListInvites(ctx)
	if err != nil {
		return st, err
	}
	st.Invites = len(invites)
	for i := range invites {
		if !invites[i].Linked() {
			st.UnusedInvites++
		}
	}
	return st, nil
}
