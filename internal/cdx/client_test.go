package cdx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliver-archive/sliver/internal/cdx"
)

func newIndexServer(t *testing.T, body string, capture *url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			*capture = r.URL.Query()
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, res *cdx.Result) []cdx.Record {
	t.Helper()
	var records []cdx.Record
	for res.Next() {
		records = append(records, res.Record())
	}
	require.NoError(t, res.Err())
	return records
}

func TestQueryStreamsRecordsAndResumeKey(t *testing.T) {
	body := "com,a)/ 20100101000000 http://a.com/ text/html 200 AAA 10\n" +
		"com,b)/ 20110101000000 http://b.com/ text/html 301 BBB 20\n" +
		"\n" +
		"com,b)/+20110101000000\n"
	srv := newIndexServer(t, body, nil)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	res, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	require.NoError(t, err)
	defer res.Close()

	// The token must not be visible until the stream is drained.
	_, ok := res.ResumeKey()
	assert.False(t, ok)

	records := drain(t, res)
	require.Len(t, records, 2)
	assert.Equal(t, "com,a)/", records[0].URLKey)
	assert.Equal(t, cdx.Timestamp("20110101000000"), records[1].Timestamp)

	key, ok := res.ResumeKey()
	require.True(t, ok)
	assert.Equal(t, "com,b)/+20110101000000", key)
}

func TestQueryNoResumeKey(t *testing.T) {
	body := "com,a)/ 20100101000000 http://a.com/ text/html 200 AAA 10\n\n"
	srv := newIndexServer(t, body, nil)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	res, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	require.NoError(t, err)
	defer res.Close()

	records := drain(t, res)
	require.Len(t, records, 1)
	_, ok := res.ResumeKey()
	assert.False(t, ok)
}

func TestQueryEmptyResult(t *testing.T) {
	srv := newIndexServer(t, "", nil)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	res, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	require.NoError(t, err)
	defer res.Close()

	records := drain(t, res)
	assert.Empty(t, records)
	_, ok := res.ResumeKey()
	assert.False(t, ok)
}

func TestQueryIgnoresLinesAfterToken(t *testing.T) {
	body := "com,a)/ 20100101000000 http://a.com/ text/html 200 AAA 10\n" +
		"\n" +
		"the-token\n" +
		"trailing junk that should be ignored\n"
	srv := newIndexServer(t, body, nil)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	res, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	require.NoError(t, err)
	defer res.Close()

	records := drain(t, res)
	require.Len(t, records, 1)
	key, ok := res.ResumeKey()
	require.True(t, ok)
	assert.Equal(t, "the-token", key)
}

func TestQueryEncodesLookupParameters(t *testing.T) {
	var got url.Values
	srv := newIndexServer(t, "\n", &got)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	q := cdx.NewPrefixQuery("http://example.com/files/")
	q.ResumeKey = "prior-key"
	res, err := client.Query(context.Background(), q)
	require.NoError(t, err)
	defer res.Close()
	drain(t, res)

	assert.Equal(t, "http://example.com/files/", got.Get("url"))
	assert.Equal(t, "urlkey", got.Get("collapse"))
	assert.Equal(t, "prefix", got.Get("matchType"))
	assert.Equal(t, "10000", got.Get("limit"))
	assert.Equal(t, cdx.DefaultStatusFilter, got.Get("filter"))
	assert.Equal(t, "true", got.Get("showResumeKey"))
	assert.Equal(t, "prior-key", got.Get("resumeKey"))
}

func TestQueryTemporalParameters(t *testing.T) {
	var got url.Values
	srv := newIndexServer(t, "\n", &got)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	res, err := client.Query(context.Background(), cdx.Query{
		URL:     "http://example.com/",
		Match:   cdx.MatchExact,
		Limit:   16,
		Closest: "20050101000000",
		Sort:    "closest",
	})
	require.NoError(t, err)
	defer res.Close()
	drain(t, res)

	assert.Equal(t, "exact", got.Get("matchType"))
	assert.Equal(t, "20050101000000", got.Get("closest"))
	assert.Equal(t, "closest", got.Get("sort"))
	assert.Empty(t, got.Get("collapse"))
	assert.Empty(t, got.Get("showResumeKey"))
}

func TestQueryHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	_, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestQueryUnreachableEndpoint(t *testing.T) {
	srv := newIndexServer(t, "", nil)
	srv.Close()
	client := cdx.NewClient(srv.URL, nil, nil)

	_, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	assert.Error(t, err)
}

func TestQueryOpaqueRecordLines(t *testing.T) {
	// A provider emitting fewer fields still yields records with the raw
	// line preserved for output.
	body := "com,a)/ 20100101000000 http://a.com/\n\n"
	srv := newIndexServer(t, body, nil)
	client := cdx.NewClient(srv.URL, srv.Client(), nil)

	res, err := client.Query(context.Background(), cdx.NewPrefixQuery("a.com/"))
	require.NoError(t, err)
	defer res.Close()

	records := drain(t, res)
	require.Len(t, records, 1)
	assert.Equal(t, "com,a)/ 20100101000000 http://a.com/", records[0].Raw)
	assert.Empty(t, records[0].URLKey)
}
