package netx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadToPresignedURL(t *testing.T) {
	file := []byte("hello, s3")

	t.Run("success 200 OK", func(t *testing.T) {
		var gotBody []byte
		var gotCT, gotMethod string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := UploadToPresignedURL(context.Background(), ts.URL+"/k?X-Amz-Signature=abc", bytes.NewReader(file), int64(len(file)))
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "application/octet-stream", gotCT)
		assert.Equal(t, file, gotBody)
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer ts.Close()

		err := UploadToPresignedURL(context.Background(), ts.URL, bytes.NewReader(file), int64(len(file)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload failed: 403")
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		err := UploadToPresignedURL(context.Background(), ts.URL, bytes.NewReader(file), int64(len(file)))
		require.Error(t, err)
		assert.False(t, strings.Contains(err.Error(), "upload failed"))
	})
}

func TestDownloadFromPresignedURL(t *testing.T) {
	t.Run("copies body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte("payload"))
		}))
		defer ts.Close()

		var buf bytes.Buffer
		n, err := DownloadFromPresignedURL(context.Background(), ts.URL, &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Equal(t, "payload", buf.String())
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "expired", http.StatusForbidden)
		}))
		defer ts.Close()

		var buf bytes.Buffer
		_, err := DownloadFromPresignedURL(context.Background(), ts.URL, &buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download failed: 403")
		assert.Zero(t, buf.Len())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := DownloadFromPresignedURL(ctx, ts.URL, io.Discard)
		require.ErrorIs(t, err, context.Canceled)
	})
}
