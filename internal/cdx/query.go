package cdx

import (
	"net/url"
	"strconv"
)

// MatchType selects how an index matches the query URL against capture keys.
type MatchType string

// Match types understood by CDX endpoints.
const (
	MatchExact  MatchType = "exact"
	MatchPrefix MatchType = "prefix"
	MatchHost   MatchType = "host"
)

// DefaultPageLimit is the per-page record cap used by the lookup workflow.
const DefaultPageLimit = 10000

// DefaultStatusFilter keeps 2xx and 3xx captures and drops errors.
const DefaultStatusFilter = "statuscode:[23].."

// Query describes one paginated request against a capture index. A query
// spanning multiple pages is expressed as repeated requests, each carrying
// the resume key surfaced by the previous page.
type Query struct {
	URL           string
	Match         MatchType
	Filter        string
	Limit         int
	Collapse      string
	ShowResumeKey bool
	ResumeKey     string

	// Closest and Sort request temporal ordering around a target timestamp;
	// used by tier resolution, not by the lookup workflow.
	Closest Timestamp
	Sort    string
}

// NewPrefixQuery builds the lookup workflow's standard query: prefix match,
// urlkey collapsing, success-status filtering, and resume-key pagination.
func NewPrefixQuery(target string) Query {
	return Query{
		URL:           target,
		Match:         MatchPrefix,
		Filter:        DefaultStatusFilter,
		Limit:         DefaultPageLimit,
		Collapse:      "urlkey",
		ShowResumeKey: true,
	}
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("url", q.URL)
	if q.Collapse != "" {
		v.Set("collapse", q.Collapse)
	}
	if q.Match != "" {
		v.Set("matchType", string(q.Match))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	if q.ShowResumeKey {
		v.Set("showResumeKey", "true")
	}
	if q.ResumeKey != "" {
		v.Set("resumeKey", q.ResumeKey)
	}
	if !q.Closest.IsZero() {
		v.Set("closest", string(q.Closest))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	return v
}
