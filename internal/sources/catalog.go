// Package sources defines the catalog of archival content sources and the
// capabilities each one offers to the lookup and fetch workflows.
package sources

import (
	"errors"
	"fmt"

	"github.com/sliver-archive/sliver/internal/cdx"
)

var (
	// ErrUnknownSource is returned when a source identifier matches no
	// catalog entry.
	ErrUnknownSource = errors.New("unknown source")

	// ErrLookupUnsupported is returned for sources with no query
	// interface, such as the live web.
	ErrLookupUnsupported = errors.New("lookup not supported")

	// ErrFetchUnsupported is returned for index-only sources that cannot
	// serve as a fetch stack.
	ErrFetchUnsupported = errors.New("fetch not supported")
)

// TierKind identifies the resolution strategy of one stack tier.
type TierKind string

const (
	// TierLocal consults the local collection and records into it.
	TierLocal TierKind = "local"
	// TierMemento negotiates a capture from a remote replay endpoint.
	TierMemento TierKind = "memento"
	// TierCDX queries a remote capture index, then fetches the chosen
	// capture from a separate replay endpoint.
	TierCDX TierKind = "cdx"
	// TierLive fetches directly from the live web.
	TierLive TierKind = "live"
)

// TierSpec is one row of a source's ordered tier list.
type TierSpec struct {
	Kind TierKind
	// Endpoint is the remote index or replay base URL. Unused for local
	// and live tiers.
	Endpoint string
	// Replay is the replay base URL for index-backed tiers whose Endpoint
	// only answers queries.
	Replay string
}

// LookupCaps describes a source's prefix-query interface.
type LookupCaps struct {
	// Endpoint is the capture index search URL.
	Endpoint string
	// Match is the widest granularity the index supports.
	Match cdx.MatchType
	// Filter is the status filter applied to queries, empty for none.
	Filter string
	// Warning, when set, is surfaced to the operator before querying.
	Warning string
}

// Source is one catalog entry.
type Source struct {
	ID      string
	Aliases []string
	// Lookup is nil for sources with no query semantics.
	Lookup *LookupCaps
	// Tiers is the ordered fetch stack, empty for index-only sources.
	Tiers []TierSpec
}

// catalog is the full source table. Adding a source means adding a row
// here, not new conditional branches elsewhere.
var catalog = []Source{
	{
		ID:    "live",
		Tiers: []TierSpec{{Kind: TierLive}},
	},
	{
		ID: "ia",
		Lookup: &LookupCaps{
			Endpoint: "https://web.archive.org/cdx/search/cdx",
			Match:    cdx.MatchPrefix,
			Filter:   cdx.DefaultStatusFilter,
		},
		Tiers: []TierSpec{
			{Kind: TierLocal},
			{Kind: TierMemento, Endpoint: "https://web.archive.org/web/"},
		},
	},
	{
		ID: "ia_cdx",
		Tiers: []TierSpec{
			{Kind: TierLocal},
			{Kind: TierCDX, Endpoint: "https://web.archive.org/cdx", Replay: "https://web.archive.org/web/"},
		},
	},
	{
		ID:      "cc",
		Aliases: []string{"cc-2025-05"},
		Lookup: &LookupCaps{
			Endpoint: "http://index.commoncrawl.org/CC-MAIN-2025-05-index",
			Match:    cdx.MatchHost,
			Warning:  "common crawl only supports host-level queries; results may include other paths and can take a while",
		},
	},
}

// ByID resolves a source identifier or alias to its catalog entry.
func ByID(id string) (Source, error) {
	for _, s := range catalog {
		if s.ID == id {
			return s, nil
		}
		for _, alias := range s.Aliases {
			if alias == id {
				return s, nil
			}
		}
	}
	return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
}

// IDs lists the primary identifier of every catalog entry, in catalog
// order.
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for _, s := range catalog {
		ids = append(ids, s.ID)
	}
	return ids
}

// LookupIDs lists the sources that can answer prefix queries.
func LookupIDs() []string {
	var ids []string
	for _, s := range catalog {
		if s.Lookup != nil {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// FetchIDs lists the sources that can serve a fetch stack.
func FetchIDs() []string {
	var ids []string
	for _, s := range catalog {
		if len(s.Tiers) > 0 {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// LookupQuery builds the index query for a prefix lookup against this
// source, honoring the granularity and filtering the index supports.
// Sources without a query interface fail here, before any network traffic.
func (s Source) LookupQuery(target string) (cdx.Query, error) {
	if s.Lookup == nil {
		return cdx.Query{}, fmt.Errorf("source %q: %w", s.ID, ErrLookupUnsupported)
	}
	q := cdx.NewPrefixQuery(target)
	q.Match = s.Lookup.Match
	q.Filter = s.Lookup.Filter
	return q, nil
}

// FetchTiers returns the ordered tier list backing a fetch stack.
func (s Source) FetchTiers() ([]TierSpec, error) {
	if len(s.Tiers) == 0 {
		return nil, fmt.Errorf("source %q: %w", s.ID, ErrFetchUnsupported)
	}
	return s.Tiers, nil
}

// Records reports whether fetches through this source persist remote hits
// into the local collection. Only stacks with a local tier record.
func (s Source) Records() bool {
	for _, t := range s.Tiers {
		if t.Kind == TierLocal {
			return true
		}
	}
	return false
}
