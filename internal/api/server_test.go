package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeline/scrapeline/internal/pipeline"
)

type fakeStats struct {
	snapshot pipeline.Snapshot
}

func (f fakeStats) Stats() pipeline.Snapshot { return f.snapshot }

func testSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Lanes: map[string]pipeline.LaneStats{
			pipeline.LaneList:   {Completed: 1},
			pipeline.LaneDetail: {Completed: 2, Failed: 1},
			pipeline.LaneMedia:  {Running: 1},
			pipeline.LaneSync:   {Pending: 3},
		},
		Total: pipeline.LaneStats{Pending: 3, Running: 1, Completed: 3, Failed: 1},
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{snapshot: testSnapshot()}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got.Total.Completed)
	require.Equal(t, 1, got.Lanes[pipeline.LaneDetail].Failed)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
