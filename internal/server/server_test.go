package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/identity"
	"quill/internal/media"
	"quill/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	srv   *Server
	app   *fiber.App
	store *media.MemoryStore
	mr    *miniredis.Miniredis
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "0",
		Env:                   "test",
		JWTSecret:             "test-secret-that-is-at-least-32-bytes-long",
		JWTIssuer:             "quill-api",
		JWTAudience:           "quill-client",
		TokenTTL:              time.Hour,
		OperationTimeout:      5 * time.Second,
		AllowedOrigins:        "http://localhost:5173",
		FeatureFlags:          "live_author_stats=on",
		PublicURL:             "http://localhost:5173",
		MediaMaxUploadBytes:   1 << 20,
		MediaMaxDimension:     64,
		MediaWebPQuality:      80,
		MediaMaxImagesPerPost: 3,
		PurgeInterval:         time.Minute,
		RateLimitRequests:     1000,
		RateLimitWindow:       time.Minute,
		RateLimitFailOpen:     true,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, true)
}

// newTestEnvWith builds a server on in-memory stores. Without Redis,
// notifications are pushed through the local hub.
func newTestEnvWith(t *testing.T, withRedis bool) *testEnv {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	var (
		mr  *miniredis.Miniredis
		rdb *redis.Client
	)
	if withRedis {
		mr = miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}

	store := media.NewMemoryStore("https://cdn.quill.test/media")
	srv, err := NewServerWithDeps(testConfig(), db, rdb, store)
	require.NoError(t, err)
	srv.identity.WithHashCost(bcrypt.MinCost)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.hub.Shutdown(ctx)
	})

	return &testEnv{srv: srv, app: srv.NewApp(), store: store, mr: mr}
}

// do sends body as JSON (unless it is an io.Reader) and returns the response.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
		contentType = fiber.MIMEApplicationJSON
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

// register signs up username and returns its session.
func (e *testEnv) register(t *testing.T, username string) identity.Session {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":     fmt.Sprintf("%s@quill.test", username),
		"password":  "Sup3rsecret",
		"username":  username,
		"full_name": username + " Writer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session identity.Session
	decode(t, resp, &session)
	require.NotEmpty(t, session.Token)
	return session
}
