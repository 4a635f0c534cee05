package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/povchingiz/google-meet-recording/internal/metrics"
	"github.com/povchingiz/google-meet-recording/internal/model"
	"github.com/povchingiz/google-meet-recording/internal/store"
)

const lostPipelineMessage = "pipeline lost: no worker owns this session"

// ReapOrphans fails sessions that are still in flight according to the store
// but have no task in this process, e.g. after a restart against Postgres.
// Sessions touched within olderThan are left alone.
func (o *Orchestrator) ReapOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	sessions, err := o.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	cutoff := o.now().Add(-olderThan)
	reaped := 0
	for _, sess := range sessions {
		if sess.Status.Terminal() || o.sup.Owns(sess.ID) || sess.UpdatedAt.After(cutoff) {
			continue
		}
		_, err := o.store.Update(ctx, sess.ID, func(s *model.Session) error {
			return s.Apply(model.Transition{To: model.SessionError, ErrorMessage: lostPipelineMessage}, o.now())
		})
		switch {
		case err == nil:
			reaped++
			metrics.Default().IncCounter("meetrec_sessions_finished_total", map[string]string{"status": string(model.SessionError)})
			log.Printf("event=session_reaped session_id=%s from=%s", sess.ID, sess.Status)
		case errors.Is(err, store.ErrNotFound), errors.Is(err, model.ErrInvalidTransition):
			// deleted or finished since the listing
		default:
			return reaped, fmt.Errorf("reap session %s: %w", sess.ID, err)
		}
	}
	return reaped, nil
}

// PurgeExpired deletes terminal sessions, and their recordings, whose last
// update is older than retention. A non-positive retention keeps everything.
func (o *Orchestrator) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	sessions, err := o.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	cutoff := o.now().Add(-retention)
	purged := 0
	for _, sess := range sessions {
		if !sess.Status.Terminal() || !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := o.DeleteSession(ctx, sess.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return purged, fmt.Errorf("purge session %s: %w", sess.ID, err)
		}
		purged++
	}
	return purged, nil
}
