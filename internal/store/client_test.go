// ABOUTME: Tests for the RemoteStore HTTP client against a stub service
// ABOUTME: Covers snapshot validation, error surfacing, and request shape

package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
)

func TestRemoteStore_Prepare(t *testing.T) {
	snapshot := MigrationPrepareResponse{
		AdminPubkey:     strings.Repeat("ab", 32),
		UserCount:       1,
		FieldValueCount: 0,
		Users:           []EncryptedUserRecord{{ID: "user-1"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/admin/key-migration/prepare", r.URL.Path)
		json.NewEncoder(w).Encode(snapshot)
	}))
	t.Cleanup(srv.Close)

	rs := NewRemoteStore(srv.URL+"/api", srv.Client())
	got, err := rs.Prepare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.AdminPubkey, got.AdminPubkey)
	require.Len(t, got.Users, 1)
	assert.Equal(t, "user-1", got.Users[0].ID)
}

func TestRemoteStore_PrepareRejectsBadCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MigrationPrepareResponse{UserCount: 5})
	}))
	t.Cleanup(srv.Close)

	rs := NewRemoteStore(srv.URL+"/api", srv.Client())
	_, err := rs.Prepare(context.Background())
	assert.ErrorContains(t, err, "user_count")
}

func TestRemoteStore_Execute(t *testing.T) {
	target := strings.Repeat("cd", 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/admin/key-migration/execute", r.URL.Path)
		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, target, req.NewPubkey)
		require.NotNil(t, req.Auth)
		assert.Equal(t, target, req.Auth.NewPubkey())
		require.Len(t, req.Users, 2)
		json.NewEncoder(w).Encode(MigrationResult{
			Message:             "ok",
			UsersMigrated:       2,
			FieldValuesMigrated: 1,
		})
	}))
	t.Cleanup(srv.Close)

	rs := NewRemoteStore(srv.URL+"/api", srv.Client())
	result, err := rs.Execute(context.Background(), target,
		[]DecryptedUserRecord{{ID: "u1", Email: "a@example.com"}, {ID: "u2"}},
		[]DecryptedFieldValueRecord{{ID: "fv1", Value: "v"}},
		event.NewKeyMigrationAuthorization(target))
	require.NoError(t, err)
	assert.Equal(t, 2, result.UsersMigrated)
	assert.Equal(t, 1, result.FieldValuesMigrated)
}

func TestRemoteStore_SurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "authorization pubkey mismatch"})
	}))
	t.Cleanup(srv.Close)

	rs := NewRemoteStore(srv.URL+"/api", srv.Client())
	_, err := rs.Execute(context.Background(), strings.Repeat("ab", 32), nil, nil,
		event.NewKeyMigrationAuthorization(strings.Repeat("ab", 32)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization pubkey mismatch")
	assert.Contains(t, err.Error(), "409")
}
