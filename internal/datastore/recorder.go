package datastore

import (
	"context"
	"time"

	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/session"
)

const recordTimeout = 5 * time.Second

// Recorder saves pipeline outcomes and finished sessions.
type Recorder struct {
	store Interface
	log   logger.Logger
}

// NewRecorder creates a Recorder on store.
func NewRecorder(store Interface) *Recorder {
	return &Recorder{store: store, log: GetLogger()}
}

// Publish saves a routing result. It satisfies the capture pipeline's
// publisher contract.
func (r *Recorder) Publish(ctx context.Context, res category.RouteResult) error {
	o := &Observation{
		Label:      res.Label,
		Confidence: res.Confidence,
		Outcome:    string(res.Outcome),
		Reason:     res.Reason,
		Evicted:    len(res.Evicted),
		CreatedAt:  time.Now(),
	}
	if res.Outcome == category.Accepted {
		o.BlobName = res.Entry.Name
		o.CreatedAt = res.Entry.CreatedAt
	}
	return r.store.SaveObservation(ctx, o)
}

// RecordSession saves a session summary. Failures are logged; it is meant
// to be used as the scheduler's termination hook.
func (r *Recorder) RecordSession(sum session.Summary) {
	state := "completed"
	if sum.Stopped {
		state = "stopped"
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := r.store.SaveSession(ctx, &SessionRecord{
		SessionID: sum.ID,
		StartedAt: sum.StartedAt,
		EndedAt:   sum.EndedAt,
		Events:    sum.Total,
		Fired:     sum.Fired,
		Failed:    sum.Failed,
		State:     state,
	})
	if err != nil {
		r.log.Warn("failed to record session",
			logger.String("session_id", sum.ID),
			logger.Error(err))
	}
}
