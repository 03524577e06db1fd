package stack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
)

// LiveTier fetches the current representation straight from the origin.
// Whatever the origin answers, including error pages, is the result; the
// live web has no notion of a missing capture.
//
// Unlike the archive tiers, which talk to one endpoint, live fetches
// fan out across arbitrary hosts, so politeness is enforced per host.
type LiveTier struct {
	httpc   *http.Client
	limiter *hostLimiter
	logger  *zap.Logger
}

func NewLiveTier(httpc *http.Client, limiter *hostLimiter, logger *zap.Logger) *LiveTier {
	if limiter == nil {
		limiter = newHostLimiter(0, 1)
	}
	return &LiveTier{httpc: orClient(httpc), limiter: limiter, logger: orLogger(logger)}
}

func (t *LiveTier) Name() string { return "live" }

// Resolve ignores ts and stamps the response with the fetch time.
func (t *LiveTier) Resolve(ctx context.Context, target string, _ cdx.Timestamp) (*Resolution, error) {
	if err := t.limiter.wait(ctx, target); err != nil {
		return nil, err
	}

	resp, err := get(ctx, t.httpc, target)
	if err != nil {
		return nil, fmt.Errorf("live fetch: %w", err)
	}

	urlKey, _ := cdx.URLKey(target)
	return &Resolution{
		Record: cdx.Record{
			URLKey:     urlKey,
			Timestamp:  cdx.TimestampOf(time.Now()),
			Original:   target,
			MIMEType:   mimeOf(resp),
			StatusCode: resp.StatusCode,
			Length:     max(resp.ContentLength, 0),
		},
		Body: resp.Body,
		Tier: t.Name(),
	}, nil
}
