package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/collab"
	"github.com/serroba/codoc/internal/storage"
	"github.com/serroba/codoc/internal/ws"
)

// Server handles HTTP requests for the collaboration API.
type Server struct {
	manager   *collab.Manager
	store     storage.Store
	permStore acl.Store
	hub       *ws.Hub
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Manager   *collab.Manager
	Store     storage.Store
	PermStore acl.Store
	Hub       *ws.Hub
	Logger    *slog.Logger // Defaults to slog.Default()
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		manager:   cfg.Manager,
		store:     cfg.Store,
		permStore: cfg.PermStore,
		hub:       cfg.Hub,
		logger:    logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Browser clients are served from any origin
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
// Every route requires the X-User-Id header.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/documents", s.authMiddleware(http.HandlerFunc(s.handleCreateDocument)))
	mux.Handle("/documents/", s.authMiddleware(http.HandlerFunc(s.handleDocumentByID)))
	mux.Handle("/ws", s.authMiddleware(http.HandlerFunc(s.handleWebSocket)))

	return s.logRequests(mux)
}

// handleDocumentByID routes requests below /documents/:
//
//	GET|DELETE     /documents/{id}
//	GET            /documents/{id}/permissions
//	PUT|DELETE     /documents/{id}/permissions/{user}
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	docID, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
	if docID == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	if rest != "" {
		section, targetUser, _ := strings.Cut(rest, "/")
		if section != "permissions" {
			http.NotFound(w, r)

			return
		}

		s.handlePermissions(w, r, docID, targetUser)

		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetDocument(w, r, docID)
	case http.MethodDelete:
		s.handleDeleteDocument(w, r, docID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
