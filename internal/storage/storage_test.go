package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UploadFile(ctx, "docs/a.pdf", strings.NewReader("%PDF-1.7"), 8, "application/pdf"))

	rc, err := s.DownloadFile(ctx, "docs/a.pdf")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "%PDF-1.7", string(b))

	require.Error(t, s.UploadFile(ctx, "short", strings.NewReader("abc"), 10, ""))

	require.NoError(t, s.RemoveFile(ctx, "docs/a.pdf"))
	_, err = s.DownloadFile(ctx, "docs/a.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestCleanKey(t *testing.T) {
	ok := map[string]string{
		"a.pdf":            "a.pdf",
		"/docs/a.pdf":      "docs/a.pdf",
		"docs//x/../a.pdf": "docs/a.pdf",
	}
	for in, want := range ok {
		got, err := CleanKey(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	for _, bad := range []string{"", "  ", "..", "../etc/passwd", "/"} {
		_, err := CleanKey(bad)
		require.Error(t, err, bad)
	}
}
