// Package stack implements fallback resolution of archived web content
// across an ordered list of tiers, with write-through recording of remote
// hits into the local collection.
package stack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/metrics"
)

// ErrNotFound is returned when no tier holds a capture of the requested
// URL at or before the requested timestamp.
var ErrNotFound = errors.New("no capture found")

// DefaultMaxBodyBytes caps how much of a remote response is buffered for
// recording.
const DefaultMaxBodyBytes = 32 << 20

// Resolution is the outcome of a successful resolve: the capture metadata
// and the payload stream. The caller owns Body and must close it.
type Resolution struct {
	Record cdx.Record
	Body   io.ReadCloser
	// Tier names the tier that produced the result.
	Tier string
}

// Tier resolves one source of content.
type Tier interface {
	Name() string
	// Resolve returns the capture of target at or before ts. Tiers report
	// a missing capture with ErrNotFound; any other error is a tier
	// failure.
	Resolve(ctx context.Context, target string, ts cdx.Timestamp) (*Resolution, error)
}

// Recorder persists a response produced by a non-local tier.
type Recorder interface {
	Record(ctx context.Context, rec cdx.Record, body []byte) error
}

// Stack is an ordered fallback chain of tiers.
type Stack struct {
	name    string
	tiers   []Tier
	rec     Recorder
	maxBody int64
	logger  *zap.Logger
}

// New assembles a stack. rec may be nil, in which case nothing is
// recorded. maxBody <= 0 selects DefaultMaxBodyBytes.
func New(name string, tiers []Tier, rec Recorder, maxBody int64, logger *zap.Logger) *Stack {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{name: name, tiers: tiers, rec: rec, maxBody: maxBody, logger: logger}
}

// Name returns the source identifier the stack was built for.
func (s *Stack) Name() string { return s.name }

// Resolve walks the tiers in priority order and returns the first hit.
// Hits from any tier after the first are written through to the recorder
// so the next identical request is a tier-0 hit. A tier failure does not
// stop the walk; if every tier misses, the last failure is returned when
// one occurred, ErrNotFound otherwise.
func (s *Stack) Resolve(ctx context.Context, target string, ts cdx.Timestamp) (*Resolution, error) {
	var lastErr error
	for i, tier := range s.tiers {
		res, err := tier.Resolve(ctx, target, ts)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				metrics.ObserveResolve(tier.Name(), "miss")
				continue
			}
			metrics.ObserveResolve(tier.Name(), "error")
			s.logger.Warn("tier failed",
				zap.String("tier", tier.Name()),
				zap.String("url", target),
				zap.Error(err))
			lastErr = err
			continue
		}

		res.Tier = tier.Name()
		metrics.ObserveResolve(tier.Name(), "hit")

		// The local tier leads every recording stack, so anything found
		// beyond position zero came from a remote and gets persisted.
		if i > 0 && s.rec != nil {
			res, err = s.record(ctx, res)
			if err != nil {
				metrics.ObserveResolve(tier.Name(), "error")
				s.logger.Warn("tier body unreadable",
					zap.String("tier", tier.Name()),
					zap.String("url", target),
					zap.Error(err))
				lastErr = err
				continue
			}
		}
		return res, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s@%s: %w", target, ts, ErrNotFound)
}

// record buffers the resolution body, persists it, and hands back a
// resolution whose body replays the buffered bytes. Recording failures
// are logged, not propagated; serving the capture matters more than
// caching it. Oversized bodies are served unbuffered and skipped.
func (s *Stack) record(ctx context.Context, res *Resolution) (*Resolution, error) {
	buf, err := io.ReadAll(io.LimitReader(res.Body, s.maxBody+1))
	if err != nil {
		_ = res.Body.Close()
		return nil, fmt.Errorf("reading %s body: %w", res.Tier, err)
	}

	if int64(len(buf)) > s.maxBody {
		metrics.ObserveRecordWrite("skipped")
		s.logger.Warn("response too large to record",
			zap.String("url", res.Record.Original),
			zap.Int64("limit", s.maxBody))
		out := *res
		out.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), res.Body), res.Body}
		return &out, nil
	}
	_ = res.Body.Close()

	if res.Record.Length <= 0 {
		res.Record.Length = int64(len(buf))
	}
	if err := s.rec.Record(ctx, res.Record, buf); err != nil {
		metrics.ObserveRecordWrite("error")
		s.logger.Warn("recording failed",
			zap.String("url", res.Record.Original),
			zap.Error(err))
	} else {
		metrics.ObserveRecordWrite("ok")
	}

	out := *res
	out.Body = io.NopCloser(bytes.NewReader(buf))
	return &out, nil
}

// Close releases every tier holding resources, such as the local capture
// index.
func (s *Stack) Close() error {
	var errs []error
	for _, tier := range s.tiers {
		if c, ok := tier.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s tier: %w", tier.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
