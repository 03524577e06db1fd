package stack

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sliver-archive/sliver/internal/cdx"
)

const userAgent = "sliver/1.0"

// nearbyCaptures bounds how many index rows around the requested moment a
// CDX tier inspects before picking one.
const nearbyCaptures = 8

// MementoTier negotiates captures from a remote replay endpoint such as
// https://web.archive.org/web/.
type MementoTier struct {
	endpoint string
	httpc    *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewMementoTier builds a tier against the given replay endpoint. A nil
// client, limiter, or logger selects a usable default.
func NewMementoTier(endpoint string, httpc *http.Client, limiter *rate.Limiter, logger *zap.Logger) *MementoTier {
	return &MementoTier{
		endpoint: ensureSlash(endpoint),
		httpc:    orClient(httpc),
		limiter:  orLimiter(limiter),
		logger:   orLogger(logger),
	}
}

func (t *MementoTier) Name() string { return "memento" }

// Resolve fetches the capture closest to ts from the replay endpoint. The
// endpoint negotiates to the nearest capture in either direction, so a
// response newer than ts means nothing exists at or before it and counts
// as a miss.
func (t *MementoTier) Resolve(ctx context.Context, target string, ts cdx.Timestamp) (*Resolution, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	replayURL := t.endpoint + string(ts) + "id_/" + target
	resp, err := get(ctx, t.httpc, replayURL)
	if err != nil {
		return nil, fmt.Errorf("memento fetch: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		drainClose(resp.Body)
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		drainClose(resp.Body)
		return nil, fmt.Errorf("memento fetch %s: unexpected status %s", target, resp.Status)
	}

	actual := mementoTimestamp(resp, ts)
	if actual.After(ts) {
		drainClose(resp.Body)
		t.logger.Debug("nearest capture is newer than requested",
			zap.String("url", target),
			zap.String("requested", string(ts)),
			zap.String("nearest", string(actual)))
		return nil, ErrNotFound
	}

	urlKey, _ := cdx.URLKey(target)
	return &Resolution{
		Record: cdx.Record{
			URLKey:     urlKey,
			Timestamp:  actual,
			Original:   target,
			MIMEType:   mimeOf(resp),
			StatusCode: resp.StatusCode,
			Length:     max(resp.ContentLength, 0),
		},
		Body: resp.Body,
		Tier: t.Name(),
	}, nil
}

// CDXTier resolves through a remote capture index first, then fetches the
// chosen capture from a separate replay endpoint.
type CDXTier struct {
	index   *cdx.Client
	replay  string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCDXTier builds a tier that queries endpoint and replays from replay.
func NewCDXTier(endpoint, replay string, httpc *http.Client, limiter *rate.Limiter, logger *zap.Logger) *CDXTier {
	httpc = orClient(httpc)
	logger = orLogger(logger)
	return &CDXTier{
		index:   cdx.NewClient(endpoint, httpc, logger),
		replay:  ensureSlash(replay),
		httpc:   httpc,
		limiter: orLimiter(limiter),
		logger:  logger,
	}
}

func (t *CDXTier) Name() string { return "cdx" }

// Resolve asks the index for captures around ts, picks the newest one at
// or before it, and fetches that capture's payload.
func (t *CDXTier) Resolve(ctx context.Context, target string, ts cdx.Timestamp) (*Resolution, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := t.index.Query(ctx, cdx.Query{
		URL:     target,
		Match:   cdx.MatchExact,
		Limit:   nearbyCaptures,
		Closest: ts,
		Sort:    "closest",
	})
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	defer res.Close()

	var best cdx.Record
	for res.Next() {
		rec := res.Record()
		if rec.Timestamp.IsZero() || rec.Timestamp.After(ts) {
			continue
		}
		if best.Timestamp.IsZero() || rec.Timestamp.After(best.Timestamp) {
			best = rec
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	if best.Timestamp.IsZero() {
		return nil, ErrNotFound
	}

	replayURL := t.replay + string(best.Timestamp) + "id_/" + best.Original
	resp, err := get(ctx, t.httpc, replayURL)
	if err != nil {
		return nil, fmt.Errorf("replay fetch: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The index advertised a capture the replay endpoint cannot
		// serve. Count it as a miss rather than an error.
		drainClose(resp.Body)
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		drainClose(resp.Body)
		return nil, fmt.Errorf("replay fetch %s: unexpected status %s", best.Original, resp.Status)
	}

	if best.StatusCode == 0 {
		best.StatusCode = resp.StatusCode
	}
	if best.MIMEType == "" || best.MIMEType == "-" {
		best.MIMEType = mimeOf(resp)
	}
	return &Resolution{Record: best, Body: resp.Body, Tier: t.Name()}, nil
}

func get(ctx context.Context, httpc *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return httpc.Do(req)
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

func mimeOf(resp *http.Response) string {
	m, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return strings.TrimSpace(m)
}

// mementoTimestamp determines the actual capture time of a replayed
// response, preferring the Memento-Datetime header and falling back to
// the 14-digit timestamp replay URLs embed in their path.
func mementoTimestamp(resp *http.Response, fallback cdx.Timestamp) cdx.Timestamp {
	if v := resp.Header.Get("Memento-Datetime"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			return cdx.TimestampOf(t)
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if ts, ok := timestampInPath(resp.Request.URL.Path); ok {
			return ts
		}
	}
	return fallback
}

func timestampInPath(path string) (cdx.Timestamp, bool) {
	for _, seg := range strings.Split(path, "/") {
		if len(seg) < 14 || !allDigits(seg[:14]) {
			continue
		}
		if ts, err := cdx.ParseTimestamp(seg[:14]); err == nil {
			return ts, true
		}
	}
	return "", false
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func ensureSlash(s string) string {
	if !strings.HasSuffix(s, "/") {
		return s + "/"
	}
	return s
}

func orClient(c *http.Client) *http.Client {
	if c == nil {
		return &http.Client{Timeout: 60 * time.Second}
	}
	return c
}

func orLimiter(l *rate.Limiter) *rate.Limiter {
	if l == nil {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return l
}

func orLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
