package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"factory-telemetry/internal/auth"
)

func apiRoutes() (public, tenant []route) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.EnsureTenant(r.Context(), "vpc"); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return []route{{"/healthz", ok}}, []route{{"/ingest/", echo}}
}

func get(t *testing.T, h http.Handler, method, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIHandlerWithoutSecretServesOnlyPublicRoutes(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	public, tenant := apiRoutes()
	h := newAPIHandler("", public, tenant, zap.New(core))

	assert.Equal(t, http.StatusNoContent, get(t, h, http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodPost, "/ingest/vpc", ""))
	assert.Equal(t, 1, logs.FilterMessage("no jwt secret configured, tenant routes disabled").Len())
}

func TestAPIHandlerWithSecretGuardsTenantRoutes(t *testing.T) {
	secret := []byte("s3cret")
	public, tenant := apiRoutes()
	h := newAPIHandler(string(secret), public, tenant, zap.NewNop())

	token, err := auth.IssueJWT(secret, "vpc", auth.RoleOperator, "gw", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, get(t, h, http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusUnauthorized, get(t, h, http.MethodPost, "/ingest/vpc", ""))
	assert.Equal(t, http.StatusAccepted, get(t, h, http.MethodPost, "/ingest/vpc", token))
}
