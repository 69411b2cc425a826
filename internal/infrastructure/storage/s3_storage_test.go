package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xpgateway/backend/internal/infrastructure/config"
)

func TestNewS3ObjectStorage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{"nil config", nil, "configuration is required"},
		{"missing bucket", &config.StorageConfig{AccessKey: "k", SecretKey: "s"}, "bucket is required"},
		{"missing access key", &config.StorageConfig{Bucket: "b", SecretKey: "s"}, "access key is required"},
		{"missing secret key", &config.StorageConfig{Bucket: "b", AccessKey: "k"}, "secret key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3ObjectStorage(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	s, err := NewS3ObjectStorage(&config.StorageConfig{
		Bucket: "gw-cache", AccessKey: "k", SecretKey: "s", Endpoint: "localhost:9000", Prefix: "/responses/",
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, "gw-cache", s.Bucket())
	assert.Equal(t, "responses/abc", s.objectKey("abc"))
}

// fakeS3 is a path-style S3 endpoint good enough for PUT, GET, HEAD and DELETE
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.URL.Path
	switch r.Method {
	case http.MethodPut:
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		f.objects[key] = []byte(buf.String())
		h := http.Header{}
		for name, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				h[name] = v
			}
		}
		f.meta[key] = h
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			}
			return
		}
		for name, v := range f.meta[key] {
			w.Header()[name] = v
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestS3ObjectStorage_RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, meta: map[string]http.Header{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewS3ObjectStorage(&config.StorageConfig{
		Bucket: "gw-cache", AccessKey: "k", SecretKey: "s", Endpoint: srv.URL, UsePathStyle: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "entry-1", Object{
		Data:        []byte(`{"ok":true}`),
		ContentType: "application/json",
		Metadata:    map[string]string{"expires-at": "1700000000"},
	}))

	exists, err := s.Exists(ctx, "entry-1")
	require.NoError(t, err)
	assert.True(t, exists)

	obj, err := s.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(obj.Data))
	assert.Equal(t, "1700000000", obj.Metadata["expires-at"])

	require.NoError(t, s.Delete(ctx, "entry-1"))
	_, err = s.Get(ctx, "entry-1")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	exists, err = s.Exists(ctx, "entry-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3ObjectStorage_EmptyKey(t *testing.T) {
	s, err := NewS3ObjectStorage(&config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, "", Object{}), ErrEmptyKey)
	_, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, s.Delete(ctx, ""), ErrEmptyKey)
	_, err = s.Exists(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryObjectStore(t *testing.T) {
	s := NewMemoryObjectStore()
	ctx := context.Background()

	data := []byte("payload")
	require.NoError(t, s.Put(ctx, "k", Object{Data: data, Metadata: map[string]string{"a": "1"}}))
	data[0] = 'X'

	obj, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(obj.Data), "stored data is copied")
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, s.Put(ctx, "", Object{}), ErrEmptyKey)
}
