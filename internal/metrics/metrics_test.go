package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Observations must not panic once initialized.
	ObserveLaneTask("list", "completed")
	SetLaneDepth("list", 3, 1)
	ObserveDispatchDelay("list", 2*time.Second)
	ObserveMediaVariant("thumb", "completed")
	ObserveSync("failed")
	ObserveChallengeWait(5 * time.Second)
}

func TestHandlerServesRegistry(t *testing.T) {
	Init()
	ObserveLaneTask("detail", "completed")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "pipeline_lane_tasks_total")
}
