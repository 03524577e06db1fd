// Package cdx implements a streaming client for line-oriented capture-index
// (CDX) endpoints, plus the record and timestamp types shared by the rest of
// the pipeline.
package cdx

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// Collapsed urlkeys with long sorted query strings can exceed bufio's
	// default 64K line cap on busy hosts.
	maxLineBytes = 1 << 20
)

// Client issues queries against one CDX endpoint and streams the results.
// No retry is attempted here; transport failures propagate to the caller,
// which owns any retry decision.
type Client struct {
	endpoint string
	httpc    *http.Client
	logger   *zap.Logger
}

// NewClient builds a client for the given endpoint. A nil httpc gets a
// default client with a conservative timeout; a nil logger is silenced.
func NewClient(endpoint string, httpc *http.Client, logger *zap.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		httpc:    httpc,
		logger:   logger,
	}
}

// Query issues one page request and returns a streaming Result. Records are
// surfaced as the response arrives; the caller must drain or Close the
// result to release the connection.
func (c *Client) Query(ctx context.Context, q Query) (*Result, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("cdx client has no endpoint configured")
	}
	reqURL := c.endpoint + "?" + q.values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}

	c.logger.Debug("Querying capture index", zap.String("url", reqURL))
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("index query %s: unexpected status %s", c.endpoint, resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Result{body: resp.Body, scanner: scanner}, nil
}

// Result streams one page of CDX records. Iterate with Next/Record; after
// Next returns false, Err reports any transport failure and ResumeKey
// reports the continuation token, which is only knowable once the stream has
// been drained past the blank-line sentinel.
type Result struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	rec       Record
	resumeKey string
	err       error
	done      bool
}

// Next advances to the next record. It returns false at the blank-line
// sentinel, at end of stream, or on error.
func (r *Result) Next() bool {
	if r.done {
		return false
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			// Sentinel: the next non-empty line, if any, is the resume key.
			r.readResumeKey()
			r.finish()
			return false
		}
		rec, err := ParseRecord(line)
		if err != nil {
			// Providers disagree on field counts; an unparseable line is
			// still a record for output purposes.
			rec = Record{Raw: line}
		}
		r.rec = rec
		return true
	}
	r.err = r.scanner.Err()
	r.finish()
	return false
}

// Record returns the record read by the last successful Next call.
func (r *Result) Record() Record {
	return r.rec
}

// Err returns the first transport or read error hit while streaming. A
// cleanly terminated stream returns nil.
func (r *Result) Err() error {
	return r.err
}

// ResumeKey returns the continuation token for the next page. It reports
// false until the stream has been fully drained, and false thereafter when
// the response carried no token.
func (r *Result) ResumeKey() (string, bool) {
	if !r.done || r.resumeKey == "" {
		return "", false
	}
	return r.resumeKey, true
}

// Close releases the underlying response body. It is safe to call at any
// point and more than once.
func (r *Result) Close() error {
	r.finish()
	return nil
}

func (r *Result) readResumeKey() {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line != "" {
			r.resumeKey = line
			// Anything after the token is not part of the contract; drop it.
			return
		}
	}
	if err := r.scanner.Err(); err != nil && r.err == nil {
		r.err = err
	}
}

func (r *Result) finish() {
	if r.done {
		return
	}
	r.done = true
	_ = r.body.Close()
}
