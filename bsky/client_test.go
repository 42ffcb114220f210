package bsky

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moderationServer struct {
	t *testing.T

	// access token lifetime handed out by createSession; zero means an hour
	accessTTL time.Duration

	emitCalls    int
	reportCalls  int
	profileCalls int
	refreshCalls int
	recordCalls  int

	lastEmitBody   []byte
	lastEmitProxy  string
	lastReport     map[string]any
	lastRecordBody map[string]any
}

func (s *moderationServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		ttl := s.accessTTL
		if ttl == 0 {
			ttl = time.Hour
		}
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  mintToken(s.t, ttl),
			"refreshJwt": mintToken(s.t, 24*time.Hour),
			"handle":     "moderator.example.com",
			"did":        "did:plc:moderator",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls++
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  mintToken(s.t, time.Hour),
			"refreshJwt": mintToken(s.t, 24*time.Hour),
			"handle":     "moderator.example.com",
			"did":        "did:plc:moderator",
		})
	})
	mux.HandleFunc("/xrpc/tools.ozone.moderation.emitEvent", func(w http.ResponseWriter, r *http.Request) {
		s.emitCalls++
		s.lastEmitProxy = r.Header.Get("Atproto-Proxy")
		body, _ := io.ReadAll(r.Body)
		s.lastEmitBody = body
		json.NewEncoder(w).Encode(map[string]any{
			"id":        101,
			"createdAt": time.Now().Format(time.RFC3339),
			"createdBy": "did:plc:moderator",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.moderation.createReport", func(w http.ResponseWriter, r *http.Request) {
		s.reportCalls++
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		s.lastReport = body
		json.NewEncoder(w).Encode(map[string]any{
			"id":         7,
			"createdAt":  time.Now().Format(time.RFC3339),
			"reasonType": body["reasonType"],
			"reportedBy": "did:plc:moderator",
			"subject":    body["subject"],
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		s.recordCalls++
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		s.lastRecordBody = body
		json.NewEncoder(w).Encode(map[string]any{
			"uri": "at://did:plc:moderator/" + body["collection"].(string) + "/3kabc",
			"cid": "bafyrec",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.putRecord", func(w http.ResponseWriter, r *http.Request) {
		s.recordCalls++
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		s.lastRecordBody = body
		json.NewEncoder(w).Encode(map[string]any{
			"uri": "at://did:plc:moderator/" + body["collection"].(string) + "/" + body["rkey"].(string),
			"cid": "bafyrec2",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.getRecord", func(w http.ResponseWriter, r *http.Request) {
		s.recordCalls++
		q := r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"uri":   "at://" + q.Get("repo") + "/" + q.Get("collection") + "/" + q.Get("rkey"),
			"value": map[string]string{"note": "tracked"},
		})
	})
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		s.profileCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"did":    r.URL.Query().Get("actor"),
			"handle": "someone.example.com",
		})
	})
	return mux
}

func newTestClient(t *testing.T, srv *moderationServer, dryRun bool) *Client {
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return NewClient(ClientConfig{
		Host:       ts.URL,
		Handle:     "moderator.example.com",
		Password:   "app-password",
		ServiceDID: "did:plc:labeler",
		DryRun:     dryRun,
	}, nil)
}

func TestLabelAccount(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	err := c.LabelAccount(context.Background(), "did:plc:target", "", []string{"spam"}, "repeated links")
	require.NoError(t, err)
	assert.Equal(1, srv.emitCalls)
	assert.Equal("did:plc:labeler#atproto_labeler", srv.lastEmitProxy)

	var body map[string]any
	require.NoError(t, json.Unmarshal(srv.lastEmitBody, &body))
	event := body["event"].(map[string]any)
	assert.Equal("tools.ozone.moderation.defs#modEventLabel", event["$type"])
	assert.Equal([]any{"spam"}, event["createLabelVals"])
	// negated list must be present even when empty
	negate, ok := event["negateLabelVals"]
	assert.True(ok)
	assert.Equal([]any{}, negate)

	subject := body["subject"].(map[string]any)
	assert.Equal("com.atproto.admin.defs#repoRef", subject["$type"])
	assert.Equal("did:plc:target", subject["did"])
	assert.Equal("did:plc:moderator", body["createdBy"])
}

func TestTagAndAcknowledge(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.TagReportSubject(context.Background(), "did:plc:target", "", []string{"link-chain"}))
	var body map[string]any
	require.NoError(t, json.Unmarshal(srv.lastEmitBody, &body))
	event := body["event"].(map[string]any)
	assert.Equal("tools.ozone.moderation.defs#modEventTag", event["$type"])
	assert.Equal([]any{"link-chain"}, event["add"])
	assert.Equal([]any{}, event["remove"])

	require.NoError(t, c.AcknowledgeSubject(context.Background(), "did:plc:target", ""))
	require.NoError(t, json.Unmarshal(srv.lastEmitBody, &body))
	event = body["event"].(map[string]any)
	assert.Equal("tools.ozone.moderation.defs#modEventAcknowledge", event["$type"])
	assert.Equal(2, srv.emitCalls)
}

func TestSendReport(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	err := c.SendReport(context.Background(), "did:plc:target", "",
		"com.atproto.moderation.defs#reasonSpam", `{"root":"https://sho.rt/x","chain":["https://a","https://b"]}`)
	require.NoError(t, err)
	assert.Equal(1, srv.reportCalls)
	assert.Equal("com.atproto.moderation.defs#reasonSpam", srv.lastReport["reasonType"])
	subject := srv.lastReport["subject"].(map[string]any)
	assert.Equal("did:plc:target", subject["did"])
}

func TestDryRunNeutrality(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, true)
	require.NoError(t, c.Connect(context.Background()))
	assert.True(c.IsReady())

	require.NoError(t, c.LabelAccount(context.Background(), "did:plc:target", "", []string{"spam"}, ""))
	require.NoError(t, c.SendReport(context.Background(), "did:plc:target", "", "com.atproto.moderation.defs#reasonSpam", "x"))
	require.NoError(t, c.AcknowledgeSubject(context.Background(), "did:plc:target", ""))

	assert.Equal(0, srv.emitCalls)
	assert.Equal(0, srv.reportCalls)
}

func TestNotReadyEmissionDropped(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)

	assert.False(c.IsReady())
	require.NoError(t, c.LabelAccount(context.Background(), "did:plc:target", "", []string{"spam"}, ""))
	assert.Equal(0, srv.emitCalls)
}

func TestContentSubjectDropped(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.LabelAccount(context.Background(), "did:plc:target", "app.bsky.feed.post/3k", []string{"spam"}, ""))
	assert.Equal(0, srv.emitCalls)
}

func TestCreateRecord(t *testing.T) {
	assert := assert.New(t)
	// a short-lived access token forces a refresh before the write goes out
	srv := &moderationServer{t: t, accessTTL: 30 * time.Second}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	out, err := c.CreateRecord(context.Background(), "app.bsky.graph.list", "",
		map[string]string{"name": "suspects"})
	require.NoError(t, err)
	assert.Equal(1, srv.refreshCalls)
	assert.Equal(1, srv.recordCalls)
	assert.Equal("bafyrec", out.Cid)

	assert.Equal("app.bsky.graph.list", srv.lastRecordBody["collection"])
	assert.Equal("did:plc:moderator", srv.lastRecordBody["repo"])
	record := srv.lastRecordBody["record"].(map[string]any)
	assert.Equal("suspects", record["name"])
}

func TestGetRecord(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	out, err := c.GetRecord(context.Background(), "did:plc:other", "app.bsky.graph.list", "3kxyz")
	require.NoError(t, err)
	assert.Equal(1, srv.recordCalls)
	assert.Equal("at://did:plc:other/app.bsky.graph.list/3kxyz", out.Uri)

	var value map[string]string
	require.NoError(t, json.Unmarshal(out.Value, &value))
	assert.Equal("tracked", value["note"])
}

func TestPutRecord(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	out, err := c.PutRecord(context.Background(), "app.bsky.graph.list", "3kxyz",
		map[string]string{"name": "suspects v2"})
	require.NoError(t, err)
	assert.Equal(1, srv.recordCalls)
	assert.Equal("at://did:plc:moderator/app.bsky.graph.list/3kxyz", out.Uri)
	assert.Equal("3kxyz", srv.lastRecordBody["rkey"])

	// fresh token, no refresh round-trip
	assert.Equal(0, srv.refreshCalls)

	_, err = c.PutRecord(context.Background(), "app.bsky.graph.list", "3kxyz", make(chan int))
	require.Error(t, err)
}

func TestRecordWritesRequireReady(t *testing.T) {
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)

	_, err := c.CreateRecord(context.Background(), "app.bsky.graph.list", "", map[string]string{})
	require.Error(t, err)
	_, err = c.PutRecord(context.Background(), "app.bsky.graph.list", "3kxyz", map[string]string{})
	require.Error(t, err)
	assert.Equal(t, 0, srv.recordCalls)
}

func TestGetProfileCached(t *testing.T) {
	assert := assert.New(t)
	srv := &moderationServer{t: t}
	c := newTestClient(t, srv, false)
	require.NoError(t, c.Connect(context.Background()))

	p1, err := c.GetProfile(context.Background(), "did:plc:someone")
	require.NoError(t, err)
	p2, err := c.GetProfile(context.Background(), "did:plc:someone")
	require.NoError(t, err)

	assert.Equal(1, srv.profileCalls)
	assert.Same(p1, p2)
}
