package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBatchSkipsBlankAndCommentLines(t *testing.T) {
	t.Parallel()

	lines := []string{"https://a.example/", "", "# comment", "https://b.example/"}
	jobs := BuildBatch(lines, "shots", JobDefaults{})

	require.Len(t, jobs, 2)
	assert.Equal(t, "https://a.example/", jobs[0].URL)
	assert.Equal(t, "https://b.example/", jobs[1].URL)
	assert.Equal(t, filepath.Join("shots", "a-example.png"), jobs[0].Output)
	assert.Equal(t, filepath.Join("shots", "b-example.png"), jobs[1].Output)

	for _, job := range jobs {
		assert.Equal(t, DefaultWaitMillis, job.Wait)
		assert.Equal(t, int64(DefaultWidth), job.Width)
		assert.Equal(t, int64(DefaultHeight), job.Height)
		assert.Equal(t, int64(DefaultPadding), job.Padding)
	}
}

func TestBuildBatchAppliesDefaults(t *testing.T) {
	t.Parallel()

	jobs := BuildBatch([]string{"  https://a.example/page  "}, "out", JobDefaults{
		WaitMillis: 500,
		Width:      1024,
		Height:     768,
		Padding:    10,
	})

	require.Len(t, jobs, 1)
	assert.Equal(t, "https://a.example/page", jobs[0].URL)
	assert.Equal(t, 500, jobs[0].Wait)
	assert.Equal(t, int64(1024), jobs[0].Width)
	assert.Equal(t, int64(768), jobs[0].Height)
	assert.Equal(t, int64(10), jobs[0].Padding)
}

func TestFilenameForURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{"https://datasette.io/", "datasette-io.png"},
		{"https://a.example/", "a-example.png"},
		{"https://example.com/some/path", "example-com-some-path.png"},
		{"https://example.com/p?q=1", "example-com-p.png"},
		{"not a url", "not-a-url.png"},
		{"", "capture.png"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FilenameForURL(tc.raw), "url %q", tc.raw)
	}
}

func TestJobFileRoundTrip(t *testing.T) {
	t.Parallel()

	jobs := BuildBatch([]string{"https://a.example/", "https://b.example/x"}, "shots", JobDefaults{})
	path, err := WriteJobFile(jobs)
	require.NoError(t, err)
	defer os.Remove(path)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "shots-"), "artifact name %q", base)
	assert.True(t, strings.HasSuffix(base, ".yaml"), "artifact name %q", base)

	loaded, err := ReadJobFile(path)
	require.NoError(t, err)
	assert.Equal(t, jobs, loaded)
}

func TestReadJobFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadJobFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
