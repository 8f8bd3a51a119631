package blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURLDefaultsToEndpointAndBucket(t *testing.T) {
	s, err := New(Options{Endpoint: "localhost:9000", Bucket: "case-documents"})
	require.NoError(t, err)

	got, err := s.PublicURL("case-1/1700000000000.pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/case-documents/case-1/1700000000000.pdf", got)
}

func TestPublicURLUsesOverrideAndEscapes(t *testing.T) {
	s, err := New(Options{Endpoint: "localhost:9000", Bucket: "docs", UseSSL: true, PublicURL: "https://cdn.example.com/docs/"})
	require.NoError(t, err)

	got, err := s.PublicURL("case 1/file#1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/docs/case%201/file%231.pdf", got)

	_, err = s.PublicURL("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Options{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestUploadRejectsEmptyPath(t *testing.T) {
	s, err := New(Options{Endpoint: "localhost:9000", Bucket: "docs"})
	require.NoError(t, err)
	err = s.Upload(context.Background(), "", bytes.NewReader(nil), 0, "")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestUploadRoundTripIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	endpoint := os.Getenv("PORTAL_TEST_BLOB_ENDPOINT")
	if endpoint == "" {
		t.Skip("PORTAL_TEST_BLOB_ENDPOINT not set")
	}

	s, err := New(Options{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("PORTAL_TEST_BLOB_ACCESS_KEY"),
		SecretKey: os.Getenv("PORTAL_TEST_BLOB_SECRET_KEY"),
		Bucket:    "portal-test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.EnsureBucket(ctx))

	path := "case-it/" + time.Now().Format("20060102150405") + ".txt"
	body := []byte("retainer agreement")
	require.NoError(t, s.Upload(ctx, path, bytes.NewReader(body), int64(len(body)), "text/plain"))
	t.Cleanup(func() { _ = s.Remove(context.Background(), path) })

	link, err := s.PublicURL(path)
	require.NoError(t, err)
	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	objects, err := s.List(ctx, "case-it/")
	require.NoError(t, err)
	var listed bool
	for _, obj := range objects {
		if obj.Path == path {
			listed = true
			assert.Equal(t, int64(len(body)), obj.Size)
		}
	}
	assert.True(t, listed, "uploaded object should be listed")

	require.NoError(t, s.Remove(ctx, path))
	objects, err = s.List(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, objects)
}
