package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/api"
	"github.com/stretchr/testify/require"
)

func sharedDoc() fixture {
	return fixture{
		docs: []string{"doc1"},
		acl:  true,
		roles: map[string]acl.Role{
			"owner":  acl.Owner,
			"editor": acl.Editor,
		},
	}
}

func TestPermissionRoutes_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fixture  fixture
		method   string
		path     string
		user     string
		body     string
		expected int
	}{
		{"list", sharedDoc(), http.MethodGet, "/documents/doc1/permissions", "editor", "", http.StatusOK},
		{"list without role", sharedDoc(), http.MethodGet, "/documents/doc1/permissions", "x", "", http.StatusForbidden},
		{"list missing doc", sharedDoc(), http.MethodGet, "/documents/doc2/permissions", "owner", "", http.StatusNotFound},
		{"list without acl", fixture{docs: []string{"doc1"}}, http.MethodGet, "/documents/doc1/permissions", "u", "", http.StatusNotFound},
		{"grant", sharedDoc(), http.MethodPut, "/documents/doc1/permissions/bob", "owner", `{"role":"viewer"}`, http.StatusOK},
		{"grant as editor", sharedDoc(), http.MethodPut, "/documents/doc1/permissions/bob", "editor", `{"role":"viewer"}`, http.StatusForbidden},
		{"grant unknown role", sharedDoc(), http.MethodPut, "/documents/doc1/permissions/bob", "owner", `{"role":"root"}`, http.StatusBadRequest},
		{"revoke", sharedDoc(), http.MethodDelete, "/documents/doc1/permissions/editor", "owner", "", http.StatusNoContent},
		{"revoke unknown user", sharedDoc(), http.MethodDelete, "/documents/doc1/permissions/bob", "owner", "", http.StatusNotFound},
		{"post", sharedDoc(), http.MethodPost, "/documents/doc1/permissions", "owner", "", http.StatusMethodNotAllowed},
		{"put without user", sharedDoc(), http.MethodPut, "/documents/doc1/permissions", "owner", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, handler := tt.fixture.build(t)

			rec := do(handler, tt.method, tt.path, tt.user, tt.body)
			if rec.Code != tt.expected {
				t.Errorf("expected status %d, got %d: %s", tt.expected, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPermissions_ShareThenList(t *testing.T) {
	t.Parallel()

	_, permStore, handler := sharedDoc().build(t)

	rec := do(handler, http.MethodPut, "/documents/doc1/permissions/bob", "owner", `{"role":"editor"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	role, err := permStore.GetRole("doc1", "bob")
	require.NoError(t, err)

	if role != acl.Editor {
		t.Errorf("expected bob to be editor, got %v", role)
	}

	rec = do(handler, http.MethodGet, "/documents/doc1/permissions", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListPermissionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	users := make([]string, 0, len(resp.Permissions))
	for _, perm := range resp.Permissions {
		users = append(users, perm.UserID)
	}

	require.Equal(t, []string{"bob", "editor", "owner"}, users)
}

func TestPermissions_RevokedUserLosesAccess(t *testing.T) {
	t.Parallel()

	_, _, handler := sharedDoc().build(t)

	require.Equal(t, http.StatusOK, do(handler, http.MethodGet, "/documents/doc1", "editor", "").Code)

	rec := do(handler, http.MethodDelete, "/documents/doc1/permissions/editor", "owner", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	if code := do(handler, http.MethodGet, "/documents/doc1", "editor", "").Code; code != http.StatusForbidden {
		t.Errorf("expected 403 after revoke, got %d", code)
	}
}
