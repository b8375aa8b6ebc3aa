// Package token issues short-lived playback grants bound to the requesting
// device and domain.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/coursekit/streamgate/auth"
	"github.com/coursekit/streamgate/sign"
	"github.com/coursekit/streamgate/store"
)

var (
	ErrNoEntitlement = errors.New("no active entitlement")
	ErrVideoNotFound = errors.New("video not found")
)

// ReqContext carries the request attributes a session is fingerprinted from.
type ReqContext struct {
	UserAgent string
	Origin    string
	Referer   string
	ClientIP  string
}

// Grant is the client-facing playback authorization.
type Grant struct {
	PlaybackURL   string    `json:"playbackUrl"`
	ExpiresAt     time.Time `json:"expiresAt"`
	WatermarkText string    `json:"watermarkText"`
	SessionID     string    `json:"sessionId"`
}

type Config struct {
	OriginBase        string
	OriginKey         string
	SignScheme        string // "path" or "asset"
	ProxyEnabled      bool
	ProxyBase         string
	DefaultDomain     string
	FingerprintSecret string
	TTL               time.Duration
}

type Issuer struct {
	sessions     store.Sessions
	videos       store.Videos
	entitlements store.Entitlements
	cfg          Config
	now          func() time.Time
}

func NewIssuer(sessions store.Sessions, videos store.Videos, entitlements store.Entitlements, cfg Config) *Issuer {
	return &Issuer{
		sessions:     sessions,
		videos:       videos,
		entitlements: entitlements,
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithClock overrides the issuer's clock, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue creates one playback session for the identity and hands back a grant.
// Repeated calls for the same video create independent sessions.
func (i *Issuer) Issue(ctx context.Context, ident auth.Identity, videoID string, rc ReqContext) (Grant, error) {
	entitled, err := i.entitlements.HasActiveEntitlement(ctx, ident.UID)
	if err != nil {
		return Grant{}, errors.Wrap(err, "entitlement lookup")
	}
	if !entitled {
		return Grant{}, ErrNoEntitlement
	}

	video, err := i.videos.Video(ctx, videoID)
	if err != nil {
		if errors.Is(err, store.ErrVideoNotFound) {
			return Grant{}, ErrVideoNotFound
		}
		return Grant{}, errors.Wrap(err, "video lookup")
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.cfg.TTL)

	sessionID, err := newSessionID()
	if err != nil {
		return Grant{}, errors.Wrap(err, "generate session id")
	}

	domain := domainFrom(rc, i.cfg.DefaultDomain)
	upstreamPath := "/" + video.PlaybackID + "/index.m3u8"

	var upstreamURL string
	switch i.cfg.SignScheme {
	case "asset":
		upstreamURL = sign.AssetURL(i.cfg.OriginBase, i.cfg.OriginKey, upstreamPath, video.ID, ident.UID, domain, expiresAt.Unix())
	default:
		upstreamURL = sign.PathURL(i.cfg.OriginBase, i.cfg.OriginKey, upstreamPath, ident.UID, expiresAt.Unix())
	}

	session := store.Session{
		ID:            sessionID,
		UserID:        ident.UID,
		VideoID:       video.ID,
		UserAgentHash: sign.DeviceHash(i.cfg.FingerprintSecret, rc.UserAgent, ident.UID),
		IPHash:        sign.IPHash(rc.ClientIP),
		Domain:        domain,
		UpstreamURL:   upstreamURL,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		Active:        true,
	}
	if err := i.sessions.PutSession(ctx, session); err != nil {
		return Grant{}, errors.Wrap(err, "persist session")
	}

	playbackURL := upstreamURL
	if i.cfg.ProxyEnabled {
		playbackURL = fmt.Sprintf("%s/%s/index.m3u8", i.cfg.ProxyBase, sessionID)
	}

	log.Debug().Str("session_id", sessionID).Str("video_id", video.ID).Str("uid", ident.UID).Msg("Issued playback grant")

	return Grant{
		PlaybackURL:   playbackURL,
		ExpiresAt:     expiresAt,
		WatermarkText: ident.Email,
		SessionID:     sessionID,
	}, nil
}

// newSessionID returns 128 bits of crypto-random entropy as hex.
func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func domainFrom(rc ReqContext, fallback string) string {
	for _, header := range []string{rc.Origin, rc.Referer} {
		if header == "" {
			continue
		}
		if u, err := url.Parse(header); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return fallback
}
