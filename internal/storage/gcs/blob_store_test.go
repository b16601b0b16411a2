package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pricewise/internal/storage/gcs"
)

// newTestStore points a storage client at a fake JSON API server.
func newTestStore(t *testing.T, handler http.Handler, prefix string) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestMirrorSnapshot(t *testing.T) {
	doc := []byte(`{"id":"20261018T080000Z"}`)

	var (
		mu      sync.Mutex
		uploads []string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		mu.Lock()
		uploads = append(uploads, string(body))
		mu.Unlock()
		_, _ = fmt.Fprintln(w, `{"name": "object", "bucket": "test-bucket"}`)
	})

	store := newTestStore(t, handler, "/pricewise/")
	uri, err := store.MirrorSnapshot(context.Background(), "20261018T080000Z", doc)
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/pricewise/snapshots/20261018T080000Z.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploads, 2)
	assert.Contains(t, uploads[0], "pricewise/snapshots/20261018T080000Z.json")
	assert.Contains(t, uploads[0], "snapshot_id")
	assert.Contains(t, uploads[0], string(doc))
	assert.Contains(t, uploads[1], "pricewise/latest.json")
	assert.Contains(t, uploads[1], uri)
}

func TestMirrorSnapshotServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, handler, "")
	_, err := store.MirrorSnapshot(context.Background(), "20261018T080000Z", []byte("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)

	store, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.MirrorSnapshot(context.Background(), "../up", nil)
	require.Error(t, err)
}
