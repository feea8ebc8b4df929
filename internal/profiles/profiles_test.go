package profiles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{"bare url", "https://www.linkedin.com/in/johnsmith", "https://www.linkedin.com/in/johnsmith", true},
		{"embedded with trailing slash", "here you go https://www.linkedin.com/in/arjun-srivastava-ml/ thanks",
			"https://www.linkedin.com/in/arjun-srivastava-ml/", true},
		{"trailing punctuation", "my profile is https://service/in/known-user.", "https://service/in/known-user", true},
		{"http scheme", "http://example.org/in/janedoe", "http://example.org/in/janedoe", true},
		{"no profile path", "see https://example.org/about", "", false},
		{"plain text", "evaluate my fit", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractURL(tt.input)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "johnsmith", Slug("https://www.linkedin.com/in/JohnSmith/"))
	assert.Equal(t, "known-user", Slug("https://service/in/known-user"))
	assert.Equal(t, "boblee", Slug(" boblee "))
	assert.Equal(t, "janedoe", Slug("/janedoe/"))
}

func TestCatalog_BuiltinProfiles(t *testing.T) {
	c, err := NewCatalog("", zaptest.NewLogger(t))
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, s := range c.List() {
		ids = append(ids, s.ID)
		assert.Equal(t, "builtin", s.Source)
	}
	assert.Equal(t, []string{"alicejohnson", "arjun-srivastava-ml", "boblee", "janedoe", "johnsmith"}, ids)

	p, err := c.Fetch(context.Background(), "https://www.linkedin.com/in/johnsmith")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", p.Name())
	assert.Contains(t, p.Data["skills"], "Python")
}

func TestCatalog_NotFoundListsSuggestions(t *testing.T) {
	c, err := NewCatalog("", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "https://www.linkedin.com/in/nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProfileNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Len(t, nf.Suggestions, 5)
	assert.Contains(t, nf.Hint(), "not found, try one of: ")
	assert.Contains(t, nf.Hint(), "https://www.linkedin.com/in/janedoe")
}

func TestCatalog_DirectoryOverridesAndEmptyProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "johnsmith.yaml"), []byte(`
id: johnsmith
profile:
  name: John Q. Smith
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ghost.yml"), []byte("url: https://service/in/ghost\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	c, err := NewCatalog(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	p, err := c.Fetch(context.Background(), "johnsmith")
	require.NoError(t, err)
	assert.Equal(t, "John Q. Smith", p.Name())

	// found but empty is not the same as not found
	ghost, err := c.Fetch(context.Background(), "https://service/in/ghost")
	require.NoError(t, err)
	assert.True(t, ghost.Empty())
	assert.NotNil(t, ghost.Data)

	assert.Equal(t, 6, c.Size())
}

func TestCatalog_ReloadReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: [unclosed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unknown.yaml"), []byte("id: x\nextra: 1\n"), 0o644))

	_, err := NewCatalog(dir, zaptest.NewLogger(t))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Len(t, le.Failures, 2)
}

func TestCatalog_FetchCanceled(t *testing.T) {
	c, err := NewCatalog("", zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Fetch(ctx, "johnsmith")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCatalog_WatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))
	defer c.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "newhire.yaml"), []byte(`
id: newhire
profile:
  name: New Hire
`), 0o644))

	require.Eventually(t, func() bool {
		p, err := c.Fetch(context.Background(), "newhire")
		return err == nil && p.Name() == "New Hire"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestCatalog_WatchRequiresDirectory(t *testing.T) {
	c, err := NewCatalog("", nil)
	require.NoError(t, err)
	assert.Error(t, c.Watch(context.Background()))
}
