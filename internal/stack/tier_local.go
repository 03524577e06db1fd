package stack

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/collections"
)

var bucketCaptures = []byte("captures")

// keySep joins the URL-key and timestamp halves of an index key. It sorts
// before any printable byte, so captures of one URL form a contiguous,
// timestamp-ordered run in the bucket.
const keySep = "\x00"

// indexEntry is the stored form of one recorded capture.
type indexEntry struct {
	Timestamp string `json:"timestamp"`
	Original  string `json:"original"`
	MIMEType  string `json:"mime,omitempty"`
	Status    int    `json:"status,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Length    int64  `json:"length,omitempty"`
	Filename  string `json:"filename"`
}

// LocalTier serves and records captures from the local collection:
// payload files under archive/, capture metadata in a bolt index under
// indexes/.
type LocalTier struct {
	layout collections.Layout
	db     *bolt.DB
	logger *zap.Logger
}

// NewLocalTier opens the collection's capture index, creating the
// collection directories and the index database if absent.
func NewLocalTier(layout collections.Layout, logger *zap.Logger) (*LocalTier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	db, err := bolt.Open(layout.IndexDB(), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening capture index: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCaptures)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing capture index: %w", err)
	}
	return &LocalTier{layout: layout, db: db, logger: logger}, nil
}

func (t *LocalTier) Name() string { return "local" }

// Close releases the capture index.
func (t *LocalTier) Close() error { return t.db.Close() }

// Resolve returns the newest local capture of target at or before ts.
func (t *LocalTier) Resolve(ctx context.Context, target string, ts cdx.Timestamp) (*Resolution, error) {
	key, err := cdx.URLKey(target)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing %q: %w", target, err)
	}

	var entry indexEntry
	found := false
	err = t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCaptures).Cursor()
		prefix := []byte(key + keySep)
		// Position just past any capture at ts exactly, then step back to
		// the newest capture at or before it.
		k, v := c.Seek([]byte(key + keySep + string(ts) + "\x01"))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("reading capture index: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(t.layout.Archive(), entry.Filename))
	if err != nil {
		if os.IsNotExist(err) {
			// Index row without its payload. Report a miss so an upstream
			// tier can repair it.
			t.logger.Warn("capture payload missing", zap.String("file", entry.Filename))
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening capture payload: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decoding capture payload: %w", err)
	}

	return &Resolution{
		Record: cdx.Record{
			URLKey:     key,
			Timestamp:  cdx.Timestamp(entry.Timestamp),
			Original:   entry.Original,
			MIMEType:   entry.MIMEType,
			StatusCode: entry.Status,
			Digest:     entry.Digest,
			Length:     entry.Length,
		},
		Body: &gzipPayload{Reader: gz, f: f},
		Tier: t.Name(),
	}, nil
}

// Record persists body as a new capture: the payload lands in archive/
// under a collision-resistant name, the metadata row in the index keyed
// by URL key and timestamp.
func (t *LocalTier) Record(ctx context.Context, rec cdx.Record, body []byte) error {
	key := rec.URLKey
	if key == "" {
		k, err := cdx.URLKey(rec.Original)
		if err != nil {
			return fmt.Errorf("canonicalizing %q: %w", rec.Original, err)
		}
		key = k
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("capture of %s has no timestamp", rec.Original)
	}

	filename := fmt.Sprintf("SLIVER-%s-%s.gz", rec.Timestamp, uuid.NewString()[:8])
	path := filepath.Join(t.layout.Archive(), filename)
	if err := writeGzip(path, body); err != nil {
		return err
	}

	entry := indexEntry{
		Timestamp: string(rec.Timestamp),
		Original:  rec.Original,
		MIMEType:  rec.MIMEType,
		Status:    rec.StatusCode,
		Digest:    cdx.DigestOf(body),
		Length:    int64(len(body)),
		Filename:  filename,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding index entry: %w", err)
	}
	if err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCaptures).Put([]byte(key+keySep+entry.Timestamp), value)
	}); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("writing capture index: %w", err)
	}

	t.logger.Debug("recorded capture",
		zap.String("url", rec.Original),
		zap.String("timestamp", entry.Timestamp),
		zap.String("file", filename),
		zap.Int("bytes", len(body)))
	return nil
}

func writeGzip(path string, body []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating capture payload: %w", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(body); err != nil {
		_ = gz.Close()
		_ = f.Close()
		return fmt.Errorf("writing capture payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing capture payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing capture payload: %w", err)
	}
	return nil
}

// gzipPayload closes both the decompressor and the file beneath it.
type gzipPayload struct {
	*gzip.Reader
	f *os.File
}

func (p *gzipPayload) Close() error {
	err := p.Reader.Close()
	if cerr := p.f.Close(); err == nil {
		err = cerr
	}
	return err
}
