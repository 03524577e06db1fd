// Package harvest discovers capture candidates by walking same-host links
// from seed pages. The output is a plain URL list meant to be fed back
// into a capture batch.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls collector behavior.
type Config struct {
	// MaxDepth is the number of link hops followed beyond each seed.
	MaxDepth int
	// MaxPages caps how many pages one run may visit.
	MaxPages int
	// Delay inserts politeness pauses between requests when > 0.
	Delay         time.Duration
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	Logger        *zap.Logger
}

// Harvester walks pages with a Colly collector scoped to the seed hosts.
type Harvester struct {
	cfg    Config
	logger *zap.Logger
}

// Result summarizes one harvest run.
type Result struct {
	// URLs lists the discovered HTML pages in visit order, deduplicated.
	URLs []string
	// Visited counts every fetched page, HTML or not.
	Visited int
	// Failures counts pages that could not be fetched.
	Failures int
}

// New builds a Harvester, applying defaults for unset fields.
func New(cfg Config) *Harvester {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{cfg: cfg, logger: logger}
}

// Run crawls the seeds and returns the discovered page URLs. Links are
// followed only on the seed hosts; anchors to other schemes, foreign
// hosts, or beyond the depth limit are dropped by the collector.
func (h *Harvester) Run(ctx context.Context, seeds []string) (Result, error) {
	cleaned, hosts, err := normalizeSeeds(seeds)
	if err != nil {
		return Result{}, err
	}

	// Colly counts the seed itself as depth one.
	c := colly.NewCollector(
		colly.MaxDepth(h.cfg.MaxDepth+1),
		colly.AllowedDomains(hosts...),
	)
	c.IgnoreRobotsTxt = !h.cfg.RespectRobots
	c.SetRequestTimeout(h.cfg.Timeout)
	if h.cfg.UserAgent != "" {
		c.UserAgent = h.cfg.UserAgent
	}
	c.WithTransport(newRobotsTransport(newHTTPTransport(), h.logger))
	if h.cfg.Delay > 0 {
		if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: h.cfg.Delay}); err != nil {
			return Result{}, fmt.Errorf("limit rule: %w", err)
		}
	}

	var (
		visited  int
		failures int
		urls     []string
		seen     = make(map[string]struct{})
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if visited >= h.cfg.MaxPages {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		visited++
		if ct := r.Headers.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/html") {
			return
		}
		u := r.Request.URL.String()
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		// Fragments make distinct-looking URLs out of the same page.
		if i := strings.IndexByte(link, '#'); i >= 0 {
			link = link[:i]
		}
		// Robots blocks surface here rather than in OnError because the
		// collector rejects them before any request is made.
		if err := e.Request.Visit(link); errors.Is(err, colly.ErrRobotsTxtBlocked) {
			failures++
			h.logger.Debug("link blocked by robots.txt", zap.String("url", link))
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		failures++
		h.logger.Debug("harvest fetch failed",
			zap.String("url", r.Request.URL.String()),
			zap.Error(err))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, seed := range cleaned {
			if ctx.Err() != nil {
				return
			}
			if err := c.Visit(seed); err != nil {
				h.logger.Warn("seed rejected", zap.String("url", seed), zap.Error(err))
			}
		}
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("harvest canceled: %w", ctx.Err())
	case <-done:
	}

	return Result{URLs: urls, Visited: visited, Failures: failures}, nil
}

// normalizeSeeds validates the seed list and extracts the set of hosts
// the collector is allowed to stay on.
func normalizeSeeds(seeds []string) ([]string, []string, error) {
	var (
		cleaned []string
		hosts   []string
		seen    = make(map[string]struct{})
	)
	for _, raw := range seeds {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, nil, fmt.Errorf("seed %q is not an absolute http(s) url", raw)
		}
		host := strings.ToLower(u.Hostname())
		if _, ok := seen[host]; !ok {
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
		cleaned = append(cleaned, u.String())
	}
	if len(cleaned) == 0 {
		return nil, nil, errors.New("no seeds given")
	}
	return cleaned, hosts, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
