package gcs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf      bytes.Buffer
	closeErr error
	closed   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newTestStore(w *fakeWriter, seen *[]string) *BlobStore {
	return &BlobStore{
		bucket: "archive",
		newWriter: func(_ context.Context, bucket, path, contentType string) objectWriter {
			*seen = append(*seen, bucket, path, contentType)
			return w
		},
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestPutObjectWritesAndReturnsURI(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	var seen []string
	store := newTestStore(w, &seen)

	uri, err := store.PutObject(context.Background(), "pages/amazon/ab/ab.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/pages/amazon/ab/ab.html", uri)
	require.Equal(t, "<html/>", w.buf.String())
	require.True(t, w.closed)
	require.Equal(t, []string{"archive", "pages/amazon/ab/ab.html", "text/html"}, seen)
}

func TestPutObjectSurfacesCloseError(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{closeErr: errors.New("quota")}
	var seen []string
	_, err := newTestStore(w, &seen).PutObject(context.Background(), "p", "", []byte("x"))
	require.ErrorContains(t, err, "close writer")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	var seen []string
	_, err := newTestStore(&fakeWriter{}, &seen).PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
	require.Empty(t, seen)
}
