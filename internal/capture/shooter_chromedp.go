package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/progress"
)

// ShooterConfig controls the headless browser backing a batch.
type ShooterConfig struct {
	Concurrency int
	NavTimeout  time.Duration
	UserAgent   string
}

// ChromeShooter renders jobs in headless Chrome via chromedp. Page
// loads are forced through the recording proxy, and certificate errors
// are ignored because the proxy terminates TLS with its own leafs.
type ChromeShooter struct {
	cfg    ShooterConfig
	hub    *progress.Hub
	logger *zap.Logger
}

// NewChromeShooter validates the configuration and returns a shooter.
// The hub may be nil when no one listens for progress.
func NewChromeShooter(cfg ShooterConfig, hub *progress.Hub, logger *zap.Logger) (*ChromeShooter, error) {
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0")
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeShooter{cfg: cfg, hub: hub, logger: logger}, nil
}

func (c *ChromeShooter) allocatorOptions(proxyURL string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.ProxyServer(proxyURL),
	)
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	return opts
}

// Shoot loads the job artifact and captures every job. Individual job
// failures do not abort the batch; they are joined into the returned
// error after all jobs have been attempted.
func (c *ChromeShooter) Shoot(ctx context.Context, jobFile, proxyURL string, batchID [16]byte) error {
	jobs, err := ReadJobFile(jobFile)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions(proxyURL)...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("chromedp warmup: %w", err)
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		canceled error
	)
	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			canceled = ctx.Err()
		}
		if canceled != nil {
			break
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			started := time.Now()
			c.hub.Emit(progress.Event{
				BatchID: batchID,
				TS:      started.UTC(),
				Stage:   progress.StageJobStart,
				URL:     job.URL,
			})
			written, shotErr := c.shoot(browserCtx, job)
			if shotErr != nil {
				c.hub.Emit(progress.Event{
					BatchID: batchID,
					TS:      time.Now().UTC(),
					Stage:   progress.StageJobError,
					URL:     job.URL,
					Dur:     time.Since(started),
					Note:    shotErr.Error(),
				})
				c.logger.Error("capture failed", zap.String("url", job.URL), zap.Error(shotErr))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", job.URL, shotErr))
				mu.Unlock()
				return
			}
			c.hub.Emit(progress.Event{
				BatchID: batchID,
				TS:      time.Now().UTC(),
				Stage:   progress.StageJobDone,
				URL:     job.URL,
				Output:  job.Output,
				Bytes:   written,
				Dur:     time.Since(started),
			})
			c.logger.Debug("captured", zap.String("url", job.URL), zap.String("output", job.Output))
		}(job)
	}
	wg.Wait()
	if canceled != nil {
		errs = append(errs, canceled)
	}
	return errors.Join(errs...)
}

func (c *ChromeShooter) shoot(browserCtx context.Context, job Job) (int64, error) {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	// Watch the main document's status so a proxy miss fails the job
	// instead of producing a screenshot of the error page.
	var (
		docOnce   sync.Once
		docStatus int64
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
			return
		}
		docOnce.Do(func() { docStatus = resp.Response.Status })
	})

	wait := time.Duration(job.Wait) * time.Millisecond
	taskCtx, cancelTask := context.WithTimeout(tabCtx, c.cfg.NavTimeout+wait)
	defer cancelTask()

	var shot []byte
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.EmulateViewport(job.Width+2*job.Padding, job.Height+2*job.Padding),
		chromedp.Navigate(job.URL),
		chromedp.Sleep(wait),
		chromedp.CaptureScreenshot(&shot),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return 0, fmt.Errorf("chromedp run: %w", err)
	}
	if docStatus >= 400 {
		return 0, fmt.Errorf("page answered %d through the proxy", docStatus)
	}
	if err := os.WriteFile(job.Output, shot, 0o600); err != nil {
		return 0, fmt.Errorf("write screenshot: %w", err)
	}
	return int64(len(shot)), nil
}
