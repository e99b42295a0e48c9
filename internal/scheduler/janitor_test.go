package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/domain"
)

type stubSessionExpiryStore struct {
	expirable []*domain.ConversationSession
	listErr   error
	updated   []*domain.ConversationSession
}

func (s *stubSessionExpiryStore) ListExpirableSessions(context.Context, time.Time) ([]*domain.ConversationSession, error) {
	return s.expirable, s.listErr
}
func (s *stubSessionExpiryStore) UpdateSession(_ context.Context, sess *domain.ConversationSession) error {
	s.updated = append(s.updated, sess)
	return nil
}

func TestJanitorSweepExpiresIdleSessions(t *testing.T) {
	store := &stubSessionExpiryStore{expirable: []*domain.ConversationSession{
		{ID: "s1", Status: domain.SessionStatusActive},
		{ID: "s2", Status: domain.SessionStatusActive},
	}}
	j := NewJanitor(store, time.Hour, time.Minute)

	j.sweep(t.Context())

	require.Len(t, store.updated, 2)
	for _, sess := range store.updated {
		assert.Equal(t, domain.SessionStatusExpired, sess.Status)
	}
}

func TestJanitorSweepToleratesListError(t *testing.T) {
	store := &stubSessionExpiryStore{listErr: assert.AnError}
	j := NewJanitor(store, time.Hour, time.Minute)

	j.sweep(t.Context()) // must not panic
	assert.Empty(t, store.updated)
}

func TestNewJanitorFillsDefaults(t *testing.T) {
	j := NewJanitor(&stubSessionExpiryStore{}, 0, 0)
	assert.Equal(t, 24*time.Hour, j.idleAfter)
	assert.Equal(t, time.Hour, j.sweepEvery)
}
