package stack

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sliver-archive/sliver/internal/collections"
	"github.com/sliver-archive/sliver/internal/sources"
)

// Options configures stack construction.
type Options struct {
	// Layout is the local collection backing local tiers and recording.
	Layout collections.Layout
	// HTTPClient is shared by every remote tier. Nil selects a default
	// with a timeout.
	HTTPClient *http.Client
	// QPS limits each remote tier's request rate. Zero or negative means
	// unlimited.
	QPS float64
	// MaxBodyBytes caps response buffering for recording. Zero selects
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

func (o Options) limiter() *rate.Limiter {
	if o.QPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(o.QPS), 1)
}

// Build assembles the resolution stack for src from its catalog tier
// list. Stacks led by a local tier record remote hits back into it.
func Build(src sources.Source, opts Options) (*Stack, error) {
	specs, err := src.FetchTiers()
	if err != nil {
		return nil, err
	}

	var (
		tiers []Tier
		local *LocalTier
	)
	fail := func(err error) (*Stack, error) {
		for _, t := range tiers {
			if c, ok := t.(io.Closer); ok {
				_ = c.Close()
			}
		}
		return nil, err
	}

	for _, spec := range specs {
		switch spec.Kind {
		case sources.TierLocal:
			lt, err := NewLocalTier(opts.Layout, opts.Logger)
			if err != nil {
				return fail(err)
			}
			local = lt
			tiers = append(tiers, lt)
		case sources.TierMemento:
			tiers = append(tiers, NewMementoTier(spec.Endpoint, opts.HTTPClient, opts.limiter(), opts.Logger))
		case sources.TierCDX:
			tiers = append(tiers, NewCDXTier(spec.Endpoint, spec.Replay, opts.HTTPClient, opts.limiter(), opts.Logger))
		case sources.TierLive:
			tiers = append(tiers, NewLiveTier(opts.HTTPClient, newHostLimiter(opts.QPS, 1), opts.Logger))
		default:
			return fail(fmt.Errorf("source %q: unknown tier kind %q", src.ID, spec.Kind))
		}
	}

	var rec Recorder
	if local != nil {
		rec = local
	}
	return New(src.ID, tiers, rec, opts.MaxBodyBytes, opts.Logger), nil
}
