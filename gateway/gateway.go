// Package gateway validates playback sessions and proxies manifests and
// segments from the content origin, so the origin URL never reaches the
// client.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/coursekit/streamgate/manifest"
	"github.com/coursekit/streamgate/origin"
	"github.com/coursekit/streamgate/sign"
	"github.com/coursekit/streamgate/store"
	"github.com/coursekit/streamgate/violations"
)

var (
	ErrSessionInvalid = errors.New("session invalid")
	ErrSessionExpired = errors.New("session expired")
	ErrDeviceMismatch = errors.New("device mismatch")
	ErrDomainMismatch = errors.New("domain mismatch")
)

// ReqContext carries the request attributes checked against the session's
// recorded fingerprint.
type ReqContext struct {
	UserAgent string
	Origin    string
	Referer   string
	ClientIP  string
}

// FromRequest extracts the fingerprint attributes of an incoming request.
func FromRequest(r *http.Request) ReqContext {
	return ReqContext{
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
		Referer:   r.Header.Get("Referer"),
		ClientIP:  r.RemoteAddr,
	}
}

type Gateway struct {
	sessions          store.Sessions
	origin            *origin.Client
	recorder          *violations.Recorder
	fingerprintSecret string
	proxyBase         string
	now               func() time.Time
}

func New(sessions store.Sessions, originClient *origin.Client, recorder *violations.Recorder, fingerprintSecret, proxyBase string) *Gateway {
	return &Gateway{
		sessions:          sessions,
		origin:            originClient,
		recorder:          recorder,
		fingerprintSecret: fingerprintSecret,
		proxyBase:         proxyBase,
		now:               time.Now,
	}
}

// WithClock overrides the gateway's clock, for tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Validate checks that the session exists, is active and unexpired, and that
// the request matches the session's device and domain binding. Mismatches are
// recorded as violations off the response path.
func (g *Gateway) Validate(ctx context.Context, sessionID string, rc ReqContext) (store.Session, error) {
	sess, err := g.sessions.Session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return store.Session{}, ErrSessionInvalid
		}
		return store.Session{}, errors.Wrap(err, "session lookup")
	}
	if !sess.Active {
		return store.Session{}, ErrSessionInvalid
	}
	if sess.ExpiresAt.Before(g.now()) {
		return store.Session{}, ErrSessionExpired
	}

	deviceHash := sign.DeviceHash(g.fingerprintSecret, rc.UserAgent, sess.UserID)
	if !sign.DeviceHashEqual(deviceHash, sess.UserAgentHash) {
		g.recorder.Record(store.ViolationDeviceMismatch, sess.UserID, sess.ID,
			"user-agent does not match issuing device",
			map[string]string{"user_agent": rc.UserAgent})
		return store.Session{}, ErrDeviceMismatch
	}

	// Native players often omit Origin/Referer; the domain check only applies
	// when the request carries one.
	if host, ok := requestHostname(rc); ok && host != sess.Domain {
		g.recorder.Record(store.ViolationDomainMismatch, sess.UserID, sess.ID,
			"request domain does not match issuing domain",
			map[string]string{"domain": host, "expected": sess.Domain})
		return store.Session{}, ErrDomainMismatch
	}

	return sess, nil
}

// Stream validates the session and proxies one resource: manifests are
// buffered, rewritten and served uncached; segments are streamed through with
// a long-lived cache header.
func (g *Gateway) Stream(w http.ResponseWriter, r *http.Request, sessionID, resourcePath string) {
	sess, err := g.Validate(r.Context(), sessionID, FromRequest(r))
	if err != nil {
		writeValidationError(w, err)
		return
	}

	resource, err := normalizeResource(resourcePath)
	if err != nil {
		http.Error(w, "Invalid resource path", http.StatusBadRequest)
		return
	}

	target, err := resolveUpstream(sess.UpstreamURL, resource)
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to resolve upstream URL")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	res, err := g.origin.Fetch(r.Context(), target)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Upstream fetch failed")
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}
	if res.Status < 200 || res.Status > 299 {
		http.Error(w, "Upstream error", res.Status)
		return
	}
	defer res.Body.Close()

	if manifest.IsPlaylist(resource, res.ContentType) {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to read upstream manifest")
			http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		_, _ = w.Write([]byte(manifest.Rewrite(string(body), sess.ID, g.proxyBase)))
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	// Segments are immutable.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, res.Body); err != nil {
		log.Debug().Err(err).Str("session_id", sess.ID).Msg("Client went away mid-segment")
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionInvalid):
		http.Error(w, "Invalid session", http.StatusForbidden)
	case errors.Is(err, ErrSessionExpired):
		http.Error(w, "Session expired", http.StatusForbidden)
	case errors.Is(err, ErrDeviceMismatch):
		http.Error(w, "Device mismatch", http.StatusForbidden)
	case errors.Is(err, ErrDomainMismatch):
		http.Error(w, "Domain mismatch", http.StatusForbidden)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// requestHostname returns the hostname of the request's Origin or Referer,
// when one is present and parseable.
func requestHostname(rc ReqContext) (string, bool) {
	for _, header := range []string{rc.Origin, rc.Referer} {
		if header == "" {
			continue
		}
		if u, err := url.Parse(header); err == nil && u.Hostname() != "" {
			return u.Hostname(), true
		}
	}
	return "", false
}

// normalizeResource percent-decodes and cleans the proxied resource path,
// rejecting anything that could traverse out of the upstream base.
func normalizeResource(p string) (string, error) {
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return "", errors.Wrap(err, "malformed resource path")
	}
	unescaped = strings.ReplaceAll(unescaped, "\\", "/")
	for _, segment := range strings.Split(unescaped, "/") {
		if segment == ".." {
			return "", errors.New("path traversal rejected")
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+unescaped), "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.New("empty resource path")
	}
	return cleaned, nil
}

// resolveUpstream strips the final path segment of the session's signed
// upstream URL and appends the requested resource, keeping the signed query.
func resolveUpstream(upstreamURL, resource string) (string, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return "", errors.Wrap(err, "parse upstream url")
	}
	u.Path = path.Join(path.Dir(u.Path), resource)
	return u.String(), nil
}
