package cdx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Record is one archived capture as reported by a CDX index: the canonical
// eleven-field line trimmed to the seven fields every provider agrees on.
// Raw preserves the exact line as received so lookup output can echo records
// without reassembling them.
type Record struct {
	URLKey     string
	Timestamp  Timestamp
	Original   string
	MIMEType   string
	StatusCode int
	Digest     string
	Length     int64
	Raw        string
}

// ParseRecord splits a CDX line into its fields. Lines with extra trailing
// fields are accepted; lines with fewer than seven are rejected.
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Record{}, fmt.Errorf("cdx line has %d fields, want at least 7: %q", len(fields), line)
	}
	rec := Record{
		URLKey:   fields[0],
		Original: fields[2],
		MIMEType: fields[3],
		Digest:   fields[5],
		Raw:      line,
	}
	ts, err := ParseTimestamp(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("cdx line timestamp: %w", err)
	}
	rec.Timestamp = ts

	// Some providers report "-" for status or length on revisit records.
	if fields[4] != "-" {
		status, err := strconv.Atoi(fields[4])
		if err != nil {
			return Record{}, fmt.Errorf("cdx line status %q: %w", fields[4], err)
		}
		rec.StatusCode = status
	}
	if fields[6] != "-" {
		length, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("cdx line length %q: %w", fields[6], err)
		}
		rec.Length = length
	}
	return rec, nil
}

// String returns the record as a CDX line. The raw line wins when present so
// provider-specific extra fields survive round-tripping.
func (r Record) String() string {
	if r.Raw != "" {
		return r.Raw
	}
	return strings.Join([]string{
		r.URLKey,
		string(r.Timestamp),
		r.Original,
		orDash(r.MIMEType),
		strconv.Itoa(r.StatusCode),
		orDash(r.Digest),
		strconv.FormatInt(r.Length, 10),
	}, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// URLKey canonicalizes a URL into the SURT form CDX indexes key captures by:
// lowercased, scheme and default port dropped, host segments reversed and
// comma-joined, query parameters sorted. "https://www.Example.com/a?b=2&a=1"
// becomes "com,example)/a?a=1&b=2".
func URLKey(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	segments := strings.Split(host, ".")
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	key := strings.Join(segments, ",")

	if port := u.Port(); port != "" && port != defaultPort(u.Scheme) {
		key += ":" + port
	}

	path := strings.ToLower(u.EscapedPath())
	if path == "" {
		path = "/"
	}
	key += ")" + path

	if u.RawQuery != "" {
		// url.Values.Encode sorts keys, which is exactly the canonical order.
		key += "?" + strings.ToLower(u.Query().Encode())
	}
	return key, nil
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
