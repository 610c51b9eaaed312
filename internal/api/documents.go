package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/storage"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	ID string `json:"id"`
}

// CreateDocumentResponse is the response body for creating a document.
type CreateDocumentResponse struct {
	ID string `json:"id"`
}

// GetDocumentResponse is the response body for getting a document.
type GetDocumentResponse struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
}

// handleCreateDocument handles POST /documents. The creator becomes owner.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ID == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	if err := s.store.CreateDocument(req.ID); err != nil {
		if errors.Is(err, storage.ErrDocumentExists) {
			http.Error(w, "document already exists", http.StatusConflict)

			return
		}

		s.internalError(w, r, err)

		return
	}

	userID := UserIDFromContext(r.Context())
	if s.permStore != nil {
		if err := s.permStore.Grant(req.ID, userID, acl.Owner); err != nil {
			s.logger.Error("grant owner failed", "doc", req.ID, "user", userID, "error", err)
		}
	}

	s.logger.Info("document created", "doc", req.ID, "user", userID)
	s.writeJSON(w, r, http.StatusCreated, CreateDocumentResponse(req))
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, docID string) {
	userID := UserIDFromContext(r.Context())

	session, err := s.manager.GetOrCreateSession(docID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)

			return
		}

		s.internalError(w, r, err)

		return
	}

	content, revision, err := session.GetState(userID)
	if err != nil {
		s.permissionError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, GetDocumentResponse{
		ID:       docID,
		Content:  content,
		Revision: revision,
	})
}

// handleDeleteDocument handles DELETE /documents/{id}. It closes the live
// session and drops the document's permissions along with its data.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, docID string) {
	userID := UserIDFromContext(r.Context())

	if !s.authorize(w, r, docID, acl.ActionDelete) {
		return
	}

	if err := s.manager.DeleteDocument(docID); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)

			return
		}

		s.internalError(w, r, err)

		return
	}

	if s.permStore != nil {
		if err := s.permStore.RevokeAll(docID); err != nil {
			s.logger.Error("revoke permissions failed", "doc", docID, "error", err)
		}
	}

	s.logger.Info("document deleted", "doc", docID, "user", userID)
	w.WriteHeader(http.StatusNoContent)
}

// authorize checks the caller's permission when ACLs are configured and
// writes the error response if it is missing.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, docID string, action acl.Action) bool {
	if s.permStore == nil {
		return true
	}

	userID := UserIDFromContext(r.Context())

	err := acl.NewChecker(s.permStore).RequirePermission(docID, userID, action)
	if err != nil {
		s.permissionError(w, r, err)

		return false
	}

	return true
}

func (s *Server) permissionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, acl.ErrAccessDenied) {
		http.Error(w, "access denied", http.StatusForbidden)

		return
	}

	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response failed", "path", r.URL.Path, "error", err)
	}
}
