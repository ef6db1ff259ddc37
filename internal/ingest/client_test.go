package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapeline/scrapeline/internal/retryutil"
)

func TestClient_SyncSuccess(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotPayload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(Result{Success: true})
	}))
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "secret"}, nil)
	result, err := c.Sync(context.Background(), srv.URL+"/upsert", Payload{
		Type: "comic",
		Data: map[string]string{"slug": "one-piece"},
	})

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "comic", gotPayload.Type)
}

func TestClient_TransientStatusesAreRetryable(t *testing.T) {
	t.Parallel()

	for _, status := range []int{429, 500, 502, 503, 504} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		c := New(Config{}, nil)
		_, err := c.Sync(context.Background(), srv.URL, Payload{Type: "comic"})
		srv.Close()

		require.Error(t, err)
		require.False(t, retryutil.IsTerminal(err), "status %d must stay retryable", status)
	}
}

func TestClient_PermanentStatusIsTerminal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{}, nil)
	_, err := c.Sync(context.Background(), srv.URL, Payload{Type: "comic"})

	require.Error(t, err)
	require.True(t, retryutil.IsTerminal(err))
}

func TestClient_ConnectionErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := New(Config{}, nil)
	_, err := c.Sync(context.Background(), srv.URL, Payload{Type: "comic"})

	require.Error(t, err)
	require.False(t, retryutil.IsTerminal(err))
}

func TestClient_RetriedByLanePolicy(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Result{Success: true})
	}))
	t.Cleanup(srv.Close)

	c := New(Config{}, nil)
	policy := retryutil.Policy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	err := retryutil.Do(context.Background(), policy, func(ctx context.Context) error {
		_, syncErr := c.Sync(ctx, srv.URL, Payload{Type: "comic"})
		return syncErr
	})

	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}
