// Package capture turns URL lists into screenshot jobs and drives them
// through a recording proxy session.
package capture

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied to jobs whose options are unset.
const (
	DefaultWaitMillis = 15000
	DefaultWidth      = 800
	DefaultHeight     = 800
	DefaultPadding    = 0
)

// Job describes one screenshot to take through the proxy.
type Job struct {
	URL     string `yaml:"url"`
	Output  string `yaml:"output"`
	Wait    int    `yaml:"wait"`
	Width   int64  `yaml:"width"`
	Height  int64  `yaml:"height"`
	Padding int64  `yaml:"padding"`
}

// JobDefaults carries the per-batch options applied to every job.
// Zero values fall back to the package defaults.
type JobDefaults struct {
	WaitMillis int
	Width      int64
	Height     int64
	Padding    int64
}

func (d JobDefaults) withFallbacks() JobDefaults {
	if d.WaitMillis <= 0 {
		d.WaitMillis = DefaultWaitMillis
	}
	if d.Width <= 0 {
		d.Width = DefaultWidth
	}
	if d.Height <= 0 {
		d.Height = DefaultHeight
	}
	if d.Padding < 0 {
		d.Padding = DefaultPadding
	}
	return d
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FilenameForURL derives a stable, filesystem-safe image name from a URL.
// Two URLs that differ only in unsafe characters can collide; the later
// capture wins.
func FilenameForURL(raw string) string {
	base := raw
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil && u.Host != "" {
		base = u.Host + u.Path
	}
	slug := unsafeFilenameChars.ReplaceAllString(base, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "capture"
	}
	return slug + ".png"
}

// BuildBatch converts raw input lines into an ordered job list. Blank
// lines and lines starting with "#" are skipped. Output paths land in
// screenshotDir.
func BuildBatch(lines []string, screenshotDir string, defaults JobDefaults) []Job {
	defaults = defaults.withFallbacks()
	jobs := make([]Job, 0, len(lines))
	for _, line := range lines {
		target := strings.TrimSpace(line)
		if target == "" || strings.HasPrefix(target, "#") {
			continue
		}
		jobs = append(jobs, Job{
			URL:     target,
			Output:  filepath.Join(screenshotDir, FilenameForURL(target)),
			Wait:    defaults.WaitMillis,
			Width:   defaults.Width,
			Height:  defaults.Height,
			Padding: defaults.Padding,
		})
	}
	return jobs
}

// WriteJobFile serializes a batch to a transient YAML artifact and
// returns its path. The caller owns the file and must remove it.
func WriteJobFile(jobs []Job) (string, error) {
	f, err := os.CreateTemp("", "shots-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create job file: %w", err)
	}
	data, err := yaml.Marshal(jobs)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode job file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write job file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close job file: %w", err)
	}
	return f.Name(), nil
}

// ReadJobFile loads a batch back from its YAML artifact.
func ReadJobFile(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode job file %s: %w", path, err)
	}
	return jobs, nil
}
