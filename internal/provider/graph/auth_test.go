package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type: got %q", got)
		}
		if got := r.FormValue("scope"); got != graphScope {
			t.Errorf("scope: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   expiresIn,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCache_CachesUntilExpiry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)

	now := time.Unix(1_700_000_000, 0)
	tc := newTokenCache(srv.URL, "cid", "secret", srv.Client())
	tc.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := tc.Token(ctx)
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "token-1" {
			t.Errorf("token: got %q, want token-1", tok)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}

	// Expiry is lifetime minus the buffer.
	now = now.Add(time.Hour - tokenExpiryBuffer)
	tok, err := tc.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "token-2" || calls.Load() != 2 {
		t.Errorf("expected refresh after expiry, got %q after %d calls", tok, calls.Load())
	}
}

func TestTokenCache_Invalidate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)
	tc := newTokenCache(srv.URL, "cid", "secret", srv.Client())
	ctx := context.Background()

	if _, err := tc.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	tc.Invalidate()
	tok, err := tc.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "token-2" {
		t.Errorf("token: got %q, want token-2", tok)
	}
}

func TestTokenCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)
	tc := newTokenCache(srv.URL, "cid", "secret", srv.Client())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tc.Token(context.Background()); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestTokenCache_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
			},
		},
		{
			name: "empty token",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(tokenResponse{ExpiresIn: 3600})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			tc := newTokenCache(srv.URL, "cid", "secret", srv.Client())
			if _, err := tc.Token(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
