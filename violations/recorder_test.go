package violations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/streamgate/store"
	"github.com/coursekit/streamgate/store/memory"
	"github.com/coursekit/streamgate/violations"
)

func TestRecorder_AppendsInBackground(t *testing.T) {
	st := memory.New()
	rec := violations.NewRecorder(st, 8)

	rec.Record(store.ViolationDeviceMismatch, "u1", "s1", "user-agent hash mismatch", map[string]string{"ua": "Firefox/2"})
	rec.Close()

	got := st.Violations()
	require.Len(t, got, 1)
	assert.Equal(t, store.ViolationDeviceMismatch, got[0].Type)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.NotEmpty(t, got[0].ID)
	assert.WithinDuration(t, time.Now(), got[0].CreatedAt, time.Minute)
}

type blockingViolations struct {
	release chan struct{}
}

func (b *blockingViolations) AppendViolation(ctx context.Context, _ store.Violation) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRecorder_NeverBlocksWhenFull(t *testing.T) {
	blocker := &blockingViolations{release: make(chan struct{})}
	rec := violations.NewRecorder(blocker, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			rec.Record(store.ViolationDomainMismatch, "u1", "s1", "domain mismatch", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(blocker.release)
	rec.Close()
}

type failingViolations struct{}

func (failingViolations) AppendViolation(context.Context, store.Violation) error {
	return errors.New("store down")
}

func TestRecorder_StoreFailureIsSwallowed(t *testing.T) {
	rec := violations.NewRecorder(failingViolations{}, 4)
	rec.Record(store.ViolationDeviceMismatch, "u1", "s1", "mismatch", nil)
	// Close must not panic or hang when every write fails.
	rec.Close()
}
