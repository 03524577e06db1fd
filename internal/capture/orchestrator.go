package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/collections"
	"github.com/sliver-archive/sliver/internal/progress"
)

const sessionStopTimeout = 10 * time.Second

// ProxySession is the slice of the proxy session lifecycle the
// orchestrator drives.
type ProxySession interface {
	Start(ctx context.Context) error
	SetDefaultTimestamp(ts cdx.Timestamp) error
	Stop(ctx context.Context) error
	URL() string
}

// Shooter consumes a job-list artifact and produces one screenshot per
// job, routing page loads through the given proxy. Job-level progress is
// reported under batchID.
type Shooter interface {
	Shoot(ctx context.Context, jobFile, proxyURL string, batchID [16]byte) error
}

// Orchestrator binds a capture batch to a proxy session and a target
// timestamp and drives it to completion.
type Orchestrator struct {
	layout  collections.Layout
	session ProxySession
	shooter Shooter
	hub     *progress.Hub
	logger  *zap.Logger
}

// NewOrchestrator wires an orchestrator. The hub may be nil when no one
// listens for progress; a nil logger is replaced with a no-op one.
func NewOrchestrator(layout collections.Layout, session ProxySession, shooter Shooter, hub *progress.Hub, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{layout: layout, session: session, shooter: shooter, hub: hub, logger: logger}
}

// Run builds the batch from the input lines, starts the proxy session
// pinned to ts, and shoots every job. The session is stopped and the
// job artifact removed on every exit path, including shooter failure.
func (o *Orchestrator) Run(ctx context.Context, lines []string, ts cdx.Timestamp, defaults JobDefaults) (err error) {
	if err := o.layout.Ensure(); err != nil {
		return fmt.Errorf("prepare collections: %w", err)
	}

	jobs := BuildBatch(lines, o.layout.Screenshots(), defaults)
	if len(jobs) == 0 {
		o.logger.Warn("no capture jobs in input, nothing to do")
		return nil
	}

	batchID := progress.NewBatchID()
	started := time.Now()
	o.hub.Emit(progress.Event{
		BatchID: batchID,
		TS:      started.UTC(),
		Stage:   progress.StageBatchStart,
		Jobs:    len(jobs),
	})
	defer func() {
		evt := progress.Event{
			BatchID: batchID,
			TS:      time.Now().UTC(),
			Stage:   progress.StageBatchDone,
			Jobs:    len(jobs),
			Dur:     time.Since(started),
		}
		if err != nil {
			evt.Note = err.Error()
		}
		o.hub.Emit(evt)
	}()

	jobFile, err := WriteJobFile(jobs)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(jobFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			o.logger.Warn("could not remove job artifact", zap.String("path", jobFile), zap.Error(rmErr))
		}
	}()

	if err := o.session.Start(ctx); err != nil {
		return fmt.Errorf("start proxy session: %w", err)
	}
	defer func() {
		// Teardown must not be skipped when the batch context is
		// already canceled.
		stopCtx, cancel := context.WithTimeout(context.Background(), sessionStopTimeout)
		defer cancel()
		if stopErr := o.session.Stop(stopCtx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop proxy session: %w", stopErr))
		}
	}()

	if err := o.session.SetDefaultTimestamp(ts); err != nil {
		return fmt.Errorf("pin session timestamp: %w", err)
	}

	o.logger.Info("capture batch starting",
		zap.Int("jobs", len(jobs)),
		zap.String("timestamp", string(ts)),
		zap.String("proxy", o.session.URL()),
	)

	if err := o.shooter.Shoot(ctx, jobFile, o.session.URL(), batchID); err != nil {
		return fmt.Errorf("capture batch: %w", err)
	}
	return nil
}
