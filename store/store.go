// Package store defines the persistence model for playback sessions and
// security violations, and the repository interfaces the issuer and gateway
// are wired against.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrVideoNotFound   = errors.New("video not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Session binds a playback grant to the device and domain that requested it.
// Created once at issuance, read on every proxied request, never updated
// except through revocation (Active=false).
type Session struct {
	ID            string
	UserID        string
	VideoID       string
	UserAgentHash string
	IPHash        string
	Domain        string
	UpstreamURL   string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	Active        bool
}

type ViolationType string

const (
	ViolationDeviceMismatch ViolationType = "DEVICE_MISMATCH"
	ViolationDomainMismatch ViolationType = "DOMAIN_MISMATCH"
)

// Violation is an append-only security telemetry record.
type Violation struct {
	ID        string
	Type      ViolationType
	UserID    string
	SessionID string
	Reason    string
	Meta      map[string]string
	CreatedAt time.Time
}

// Video is a registry entry mapping a platform video id to the upstream
// provider's playback id.
type Video struct {
	ID         string
	Title      string
	PlaybackID string
}

type Sessions interface {
	PutSession(ctx context.Context, s Session) error
	// Session returns ErrSessionNotFound when no record exists.
	Session(ctx context.Context, id string) (Session, error)
}

type Violations interface {
	AppendViolation(ctx context.Context, v Violation) error
}

type Videos interface {
	// Video returns ErrVideoNotFound when the id is unknown.
	Video(ctx context.Context, id string) (Video, error)
}

type Entitlements interface {
	// HasActiveEntitlement reports whether uid currently has paid access.
	// Unknown users are reported as not entitled, ErrUserNotFound is reserved
	// for callers that need to distinguish.
	HasActiveEntitlement(ctx context.Context, uid string) (bool, error)
}
