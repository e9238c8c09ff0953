// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package groupsync holds end-to-end tests that drive device clients against
// a real sync server and Postgres
package groupsync

import (
	"log/slog"
	"net/http"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// Server represents the HTTP server for the sync API
type Server struct {
	service *groupsync.SyncService
	auth    *groupsync.JWTAuth
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates a new server instance
func NewServer(service *groupsync.SyncService, jwtAuth *groupsync.JWTAuth, logger *slog.Logger) *Server {
	server := &Server{
		service: service,
		auth:    jwtAuth,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	syncHandlers := groupsync.NewHTTPSyncHandlers(s.service, s.auth, s.logger)
	syncHandlers.Register(s.mux, s.auth.Middleware)

	// Health check endpoint (no auth required)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
