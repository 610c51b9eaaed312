package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/serroba/codoc/internal/acl"
)

// GrantRequest is the request body for sharing a document.
type GrantRequest struct {
	Role acl.Role `json:"role"`
}

// ListPermissionsResponse is the response body for listing who can access
// a document.
type ListPermissionsResponse struct {
	Permissions []acl.Permission `json:"permissions"`
}

// handlePermissions routes /documents/{id}/permissions[/{user}].
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request, docID, targetUser string) {
	if s.permStore == nil {
		http.Error(w, "sharing is not enabled", http.StatusNotFound)

		return
	}

	exists, err := s.store.DocumentExists(docID)
	if err != nil {
		s.internalError(w, r, err)

		return
	}

	if !exists {
		http.Error(w, "document not found", http.StatusNotFound)

		return
	}

	switch {
	case targetUser == "" && r.Method == http.MethodGet:
		s.handleListPermissions(w, r, docID)
	case targetUser != "" && r.Method == http.MethodPut:
		s.handleGrant(w, r, docID, targetUser)
	case targetUser != "" && r.Method == http.MethodDelete:
		s.handleRevoke(w, r, docID, targetUser)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleListPermissions handles GET /documents/{id}/permissions.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request, docID string) {
	if !s.authorize(w, r, docID, acl.ActionRead) {
		return
	}

	perms, err := s.permStore.ListPermissions(docID)
	if err != nil {
		s.internalError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, ListPermissionsResponse{Permissions: perms})
}

// handleGrant handles PUT /documents/{id}/permissions/{user}.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request, docID, targetUser string) {
	if !s.authorize(w, r, docID, acl.ActionShare) {
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := s.permStore.Grant(docID, targetUser, req.Role); err != nil {
		s.internalError(w, r, err)

		return
	}

	s.logger.Info("document shared",
		"doc", docID,
		"user", UserIDFromContext(r.Context()),
		"target", targetUser,
		"role", req.Role,
	)

	s.writeJSON(w, r, http.StatusOK, acl.Permission{DocID: docID, UserID: targetUser, Role: req.Role})
}

// handleRevoke handles DELETE /documents/{id}/permissions/{user}.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, docID, targetUser string) {
	if !s.authorize(w, r, docID, acl.ActionShare) {
		return
	}

	if err := s.permStore.Revoke(docID, targetUser); err != nil {
		if errors.Is(err, acl.ErrPermissionNotFound) {
			http.Error(w, "permission not found", http.StatusNotFound)

			return
		}

		s.internalError(w, r, err)

		return
	}

	s.logger.Info("access revoked", "doc", docID, "target", targetUser)
	w.WriteHeader(http.StatusNoContent)
}
