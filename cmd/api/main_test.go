package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/api/handlers"
	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/app"
	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/jobs/inmemory"
)

func TestNewHandler(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	cfg := config.Default()
	cfg.Store = "memory"
	services, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer services.Close()

	store := inmemory.NewStore()
	h := newHandler(handlers.Dependencies{
		Drafts:    services.Drafts,
		Publisher: inmemory.NewQueue(inmemory.Options{BufferSize: 1}, store, zerolog.Nop()),
		Jobs:      store,
	}, zerolog.Nop())

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		want   int
	}{
		{"health needs no owner", http.MethodGet, "/health", "", http.StatusOK},
		{"api needs owner", http.MethodGet, "/api/drafts", "", http.StatusUnauthorized},
		{"list drafts", http.MethodGet, "/api/drafts", "owner-1", http.StatusOK},
		{"unknown draft", http.MethodGet, "/api/drafts/missing", "owner-1", http.StatusNotFound},
		{"preflight", http.MethodOptions, "/api/drafts", "", http.StatusNoContent},
		{"attachments disabled", http.MethodGet, "/api/drafts/missing/attachments", "owner-1", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.owner != "" {
				req.Header.Set(middleware.UserHeader, tt.owner)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}
