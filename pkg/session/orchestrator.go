package session

import (
	"context"
	"errors"
	"time"

	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

// Orchestrator hands out the live session of a video, resuming the bound
// session when the session store still has it and rebuilding otherwise.
type Orchestrator struct {
	store    *db.Store
	sessions Store
	locker   Locker
	app      string
	now      func() time.Time
}

func NewOrchestrator(store *db.Store, sessions Store, locker Locker, app string) *Orchestrator {
	return &Orchestrator{store: store, sessions: sessions, locker: locker, app: app, now: time.Now}
}

func (o *Orchestrator) AppName() string { return o.app }

// Sessions returns the backing session store.
func (o *Orchestrator) Sessions() Store { return o.sessions }

// Acquire returns a live session for the video. Calls for the same video are
// serialized, so concurrent callers never rebuild twice. After it returns,
// the video's last_session_id names a session that exists.
func (o *Orchestrator) Acquire(ctx context.Context, videoID, userID string) (*Session, error) {
	if o.locker != nil {
		lock, err := o.locker.Obtain(ctx, "acquire:"+videoID)
		if err != nil {
			log.Warnf("Could not lock video '%s' for acquire: %v", videoID, err)
			return nil, apperr.Wrap(apperr.ReasonConflict, "The video is busy. Please try again.", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warnf("Failed to release acquire lock for video '%s': %v", videoID, err)
			}
		}()
	}

	video, err := queries.FindVideoByID(ctx, o.store.DB, videoID)
	if err != nil {
		return nil, apperr.Internal("Could not load the video.", err)
	}
	if video == nil || video.UserID != userID {
		return nil, apperr.NotFound("Video not found.")
	}

	if video.LastSessionID.Valid && video.LastSessionID.String != "" {
		sess, err := o.sessions.Get(ctx, o.app, userID, video.LastSessionID.String)
		switch {
		case err == nil:
			metrics.SessionAcquireTotal.WithLabelValues(metrics.PathResumed).Inc()
			log.Infof("Resumed session %s for video %s", sess.ID, videoID)
			return sess, nil
		case errors.Is(err, ErrSessionNotFound):
			log.Infof("Session %s for video %s is gone, rebuilding from the store", video.LastSessionID.String, videoID)
		default:
			return nil, apperr.Internal("Could not load the session.", err)
		}
	}

	return o.rebuild(ctx, videoID, userID)
}

func (o *Orchestrator) rebuild(ctx context.Context, videoID, userID string) (*Session, error) {
	state, err := BuildState(ctx, o.store.DB, videoID, userID, o.now())
	if err != nil {
		return nil, err
	}

	sessionID := NewSessionID(videoID)
	sess, err := o.sessions.Create(ctx, o.app, userID, sessionID, state)
	if err != nil {
		return nil, apperr.Internal("Could not create a session.", err)
	}

	if err := queries.SetVideoLastSession(ctx, o.store.DB, videoID, sessionID); err != nil {
		if delErr := o.sessions.Delete(ctx, o.app, userID, sessionID); delErr != nil {
			log.Warnf("Failed to drop unbound session %s: %v", sessionID, delErr)
		}
		return nil, apperr.Internal("Could not bind the session to the video.", err)
	}

	metrics.SessionAcquireTotal.WithLabelValues(metrics.PathRebuilt).Inc()
	log.Infof("Created session %s for video %s", sessionID, videoID)
	return sess, nil
}
