// Package violations records security events off the media response path.
package violations

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coursekit/streamgate/store"
)

// writeTimeout caps a single background write so a stalled store cannot pile
// up goroutines behind the queue.
const writeTimeout = 5 * time.Second

// Recorder appends violations through a bounded queue drained by a single
// background worker. Recording is best-effort: a full queue or a failing
// store drops the record with local diagnostics only.
type Recorder struct {
	store store.Violations
	queue chan store.Violation
	wg    sync.WaitGroup
}

func NewRecorder(st store.Violations, buffer int) *Recorder {
	r := &Recorder{
		store: st,
		queue: make(chan store.Violation, buffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues one violation. It never blocks the caller.
func (r *Recorder) Record(vt store.ViolationType, userID, sessionID, reason string, meta map[string]string) {
	v := store.Violation{
		ID:        uuid.New().String(),
		Type:      vt,
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	select {
	case r.queue <- v:
	default:
		log.Warn().Str("type", string(vt)).Str("session_id", sessionID).Msg("Violation queue full, dropping record")
	}
}

// Close stops accepting records and waits for the queue to drain.
func (r *Recorder) Close() {
	close(r.queue)
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for v := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.AppendViolation(ctx, v); err != nil {
			log.Warn().Err(err).Str("type", string(v.Type)).Str("session_id", v.SessionID).Msg("Failed to record violation")
		}
		cancel()
	}
}
