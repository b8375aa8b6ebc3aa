package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/streamgate/auth"
	"github.com/coursekit/streamgate/gateway"
	"github.com/coursekit/streamgate/origin"
	"github.com/coursekit/streamgate/server"
	"github.com/coursekit/streamgate/store"
	"github.com/coursekit/streamgate/store/memory"
	"github.com/coursekit/streamgate/token"
	"github.com/coursekit/streamgate/violations"
)

const (
	jwtSecret = "test-jwt-secret"
	fpSecret  = "test-fp-secret"
)

type env struct {
	srv       *httptest.Server
	originSrv *httptest.Server
	st        *memory.Storage
	rec       *violations.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()

	originSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pb-v1/index.m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\nlow.m3u8\n"))
		case "/pb-v1/low.m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:4.000,\nseg0.ts\n#EXT-X-ENDLIST\n"))
		case "/pb-v1/seg0.ts":
			w.Header().Set("Content-Type", "video/mp2t")
			_, _ = w.Write([]byte("segment-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(originSrv.Close)

	st := memory.New()
	st.AddVideo(store.Video{ID: "v1", Title: "Anatomy 101", PlaybackID: "pb-v1"})
	st.SetEntitlement("u1", true)
	st.SetEntitlement("u2", false)

	rec := violations.NewRecorder(st, 16)
	t.Cleanup(rec.Close)

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	proxyBase := srv.URL + "/stream"

	issuer := token.NewIssuer(st, st, st, token.Config{
		OriginBase:        originSrv.URL,
		OriginKey:         "origin-key",
		SignScheme:        "path",
		ProxyEnabled:      true,
		ProxyBase:         proxyBase,
		DefaultDomain:     "app.example.com",
		FingerprintSecret: fpSecret,
		TTL:               time.Hour,
	})
	gw := gateway.New(st, origin.New(5*time.Second), rec, fpSecret, proxyBase)
	handler = server.NewRouter(jwtSecret, issuer, gw)

	return &env{srv: srv, originSrv: originSrv, st: st, rec: rec}
}

func mintToken(t *testing.T, uid, email string) string {
	t.Helper()
	claims := auth.Claims{
		UID:   uid,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return raw
}

func (e *env) issueGrant(t *testing.T, bearer, videoID, userAgent string) (*http.Response, token.Grant) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"videoId": videoID})
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/video/playbackToken", bytes.NewReader(body))
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var grant token.Grant
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&grant))
	}
	resp.Body.Close()
	return resp, grant
}

func (e *env) get(t *testing.T, url, userAgent string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", userAgent)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPlaybackToken_RequiresIdentity(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.issueGrant(t, "", "v1", "Chrome/1")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPlaybackToken_RequiresEntitlement(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.issueGrant(t, mintToken(t, "u2", "u2@example.com"), "v1", "Chrome/1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPlaybackToken_UnknownVideo(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.issueGrant(t, mintToken(t, "u1", "u1@example.com"), "nope", "Chrome/1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaybackToken_GrantShape(t *testing.T) {
	e := newEnv(t)

	resp, grant := e.issueGrant(t, mintToken(t, "u1", "u1@example.com"), "v1", "Chrome/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, grant.SessionID, 32)
	assert.Equal(t, "u1@example.com", grant.WatermarkText)
	assert.True(t, grant.ExpiresAt.After(time.Now()))
	assert.Equal(t, e.srv.URL+"/stream/"+grant.SessionID+"/index.m3u8", grant.PlaybackURL)
}

func TestEndToEnd_IssueThenStream(t *testing.T) {
	e := newEnv(t)

	_, grant := e.issueGrant(t, mintToken(t, "u1", "u1@example.com"), "v1", "Chrome/1")
	require.NotEmpty(t, grant.SessionID)

	// Master playlist through the proxy, rewritten: the origin URL never leaks.
	resp := e.get(t, grant.PlaybackURL, "Chrome/1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, e.srv.URL+"/stream/"+grant.SessionID+"/low.m3u8")
	assert.NotContains(t, body, e.originSrv.URL)

	// Segment through the proxy, streamed verbatim.
	seg := e.get(t, e.srv.URL+"/stream/"+grant.SessionID+"/seg0.ts", "Chrome/1")
	defer seg.Body.Close()
	require.Equal(t, http.StatusOK, seg.StatusCode)
	assert.Equal(t, "video/mp2t", seg.Header.Get("Content-Type"))
}

func TestEndToEnd_DifferentDeviceForbidden(t *testing.T) {
	e := newEnv(t)

	_, grant := e.issueGrant(t, mintToken(t, "u1", "u1@example.com"), "v1", "Chrome/1")

	ok := e.get(t, grant.PlaybackURL, "Chrome/1")
	ok.Body.Close()
	require.Equal(t, http.StatusOK, ok.StatusCode)

	forbidden := e.get(t, grant.PlaybackURL, "Firefox/2")
	forbidden.Body.Close()
	assert.Equal(t, http.StatusForbidden, forbidden.StatusCode)
}

func TestStream_UnknownSessionForbidden(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, e.srv.URL+"/stream/deadbeefdeadbeefdeadbeefdeadbeef/index.m3u8", "Chrome/1")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStream_MalformedPath(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, e.srv.URL+"/stream/onlysession", "Chrome/1")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, e.srv.URL+"/healthz", "Chrome/1")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
