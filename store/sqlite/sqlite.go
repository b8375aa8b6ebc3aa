// Migrations init script: go run ./cmd/migrator --storage-path=./streamgate.db --migrations-path=./migrations
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/coursekit/streamgate/store"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "store.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) PutSession(ctx context.Context, sess store.Session) error {
	const op = "store.sqlite.PutSession"

	stmt, err := s.db.Prepare(`
		INSERT INTO sessions (id, user_id, video_id, user_agent_hash, ip_hash, domain, upstream_url, expires_at, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	active := 0
	if sess.Active {
		active = 1
	}
	_, err = stmt.ExecContext(ctx,
		sess.ID, sess.UserID, sess.VideoID, sess.UserAgentHash, sess.IPHash,
		sess.Domain, sess.UpstreamURL, sess.ExpiresAt.Unix(), sess.CreatedAt.Unix(), active,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Session(ctx context.Context, id string) (store.Session, error) {
	const op = "store.sqlite.Session"

	stmt, err := s.db.Prepare(`
		SELECT id, user_id, video_id, user_agent_hash, ip_hash, domain, upstream_url, expires_at, created_at, active
		FROM sessions WHERE id = ?
	`)
	if err != nil {
		return store.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	var (
		sess             store.Session
		expires, created int64
		active           int
	)
	err = stmt.QueryRowContext(ctx, id).Scan(
		&sess.ID, &sess.UserID, &sess.VideoID, &sess.UserAgentHash, &sess.IPHash,
		&sess.Domain, &sess.UpstreamURL, &expires, &created, &active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, fmt.Errorf("%s: %w", op, store.ErrSessionNotFound)
		}
		return store.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	sess.ExpiresAt = time.Unix(expires, 0)
	sess.CreatedAt = time.Unix(created, 0)
	sess.Active = active == 1

	return sess, nil
}

func (s *Storage) AppendViolation(ctx context.Context, v store.Violation) error {
	const op = "store.sqlite.AppendViolation"

	meta := "{}"
	if v.Meta != nil {
		raw, err := json.Marshal(v.Meta)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		meta = string(raw)
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO violations (id, type, user_id, session_id, reason, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, v.ID, string(v.Type), v.UserID, v.SessionID, v.Reason, meta, v.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Video(ctx context.Context, id string) (store.Video, error) {
	const op = "store.sqlite.Video"

	stmt, err := s.db.Prepare("SELECT id, title, playback_id FROM videos WHERE id = ?")
	if err != nil {
		return store.Video{}, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	var v store.Video
	err = stmt.QueryRowContext(ctx, id).Scan(&v.ID, &v.Title, &v.PlaybackID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Video{}, fmt.Errorf("%s: %w", op, store.ErrVideoNotFound)
		}
		return store.Video{}, fmt.Errorf("%s: %w", op, err)
	}

	return v, nil
}

func (s *Storage) HasActiveEntitlement(ctx context.Context, uid string) (bool, error) {
	const op = "store.sqlite.HasActiveEntitlement"

	stmt, err := s.db.Prepare("SELECT status FROM entitlements WHERE user_id = ?")
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	var status string
	err = stmt.QueryRowContext(ctx, uid).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return status == "active", nil
}
