package bsky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pef-moderation/firehose-automod/xrpc"
)

func mintToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(ttl).Unix(),
		"sub": "did:plc:tester",
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

type sessionServer struct {
	t *testing.T

	accessTTL  time.Duration
	refreshTTL time.Duration

	createCalls   int
	refreshCalls  int
	lastRefreshed string
	rejectRefresh bool
}

func (s *sessionServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		s.createCalls++
		var body map[string]string
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(s.t, "moderator.example.com", body["identifier"])
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  mintToken(s.t, s.accessTTL),
			"refreshJwt": mintToken(s.t, s.refreshTTL),
			"handle":     "moderator.example.com",
			"did":        "did:plc:tester",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls++
		s.lastRefreshed = r.Header.Get("Authorization")
		if s.rejectRefresh {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "InvalidToken",
				"message": "Token could not be verified",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  mintToken(s.t, time.Hour),
			"refreshJwt": mintToken(s.t, 24*time.Hour),
			"handle":     "moderator.example.com",
			"did":        "did:plc:tester",
		})
	})
	return mux
}

func newTestManager(t *testing.T, srv *sessionServer) (*SessionManager, *xrpc.Client) {
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	transport := &xrpc.Client{Host: ts.URL, Client: ts.Client()}
	mgr := NewSessionManager(transport, Credentials{
		Identifier: "moderator.example.com",
		Password:   "app-password",
	}, nil)
	return mgr, transport
}

func TestConnect(t *testing.T) {
	assert := assert.New(t)
	srv := &sessionServer{t: t, accessTTL: time.Hour, refreshTTL: 24 * time.Hour}
	mgr, transport := newTestManager(t, srv)

	require.NoError(t, mgr.Connect(context.Background()))
	assert.Equal("did:plc:tester", mgr.DID())
	assert.Equal(1, srv.createCalls)

	auth := transport.AuthSnapshot()
	require.NotNil(t, auth)
	assert.NotEmpty(auth.AccessJwt)
	assert.NotEmpty(auth.RefreshJwt)
}

func TestCheckRefreshFreshTokenNoop(t *testing.T) {
	assert := assert.New(t)
	srv := &sessionServer{t: t, accessTTL: time.Hour, refreshTTL: 24 * time.Hour}
	mgr, _ := newTestManager(t, srv)

	require.NoError(t, mgr.Connect(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.CheckRefresh(context.Background()))
	}
	assert.Equal(0, srv.refreshCalls)
}

func TestCheckRefreshWithinBuffer(t *testing.T) {
	assert := assert.New(t)
	srv := &sessionServer{t: t, accessTTL: 30 * time.Second, refreshTTL: 24 * time.Hour}
	mgr, transport := newTestManager(t, srv)

	require.NoError(t, mgr.Connect(context.Background()))
	before := transport.AuthSnapshot()

	require.NoError(t, mgr.CheckRefresh(context.Background()))
	assert.Equal(1, srv.refreshCalls)
	assert.Equal("Bearer "+before.RefreshJwt, srv.lastRefreshed)

	after := transport.AuthSnapshot()
	assert.NotEqual(before.AccessJwt, after.AccessJwt)

	// refreshed lifetime is an hour; repeated checks stay quiet
	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.CheckRefresh(context.Background()))
	}
	assert.Equal(1, srv.refreshCalls)
}

func TestCheckRefreshInvalidTokenReconnects(t *testing.T) {
	assert := assert.New(t)
	srv := &sessionServer{t: t, accessTTL: 30 * time.Second, refreshTTL: 24 * time.Hour, rejectRefresh: true}
	mgr, _ := newTestManager(t, srv)

	require.NoError(t, mgr.Connect(context.Background()))
	assert.Equal(1, srv.createCalls)

	srv.accessTTL = time.Hour
	require.NoError(t, mgr.CheckRefresh(context.Background()))
	assert.Equal(1, srv.refreshCalls)
	assert.Equal(2, srv.createCalls)
	assert.Equal("did:plc:tester", mgr.DID())
}

func TestCheckRefreshBeforeConnect(t *testing.T) {
	srv := &sessionServer{t: t, accessTTL: time.Hour, refreshTTL: 24 * time.Hour}
	mgr, _ := newTestManager(t, srv)
	assert.Error(t, mgr.CheckRefresh(context.Background()))
}
