package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Exercises the full updater lifecycle in one test: expvar map names are
// process-global, so only one StatsUpdater can exist per test binary.
func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(ActiveConnections)
	su.RegisterMetric(MessagesRelayed)
	su.Run()
	defer su.Stop()

	su.Incr(ActiveConnections)
	su.Incr(ActiveConnections)
	su.Decr(ActiveConnections)
	su.Incr(MessagesRelayed)

	readVars := func() map[string]any {
		req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

		var vars map[string]any
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&vars))
		return vars
	}

	assert.Eventually(t, func() bool {
		vars := readVars()
		return vars[ActiveConnections] == float64(1) && vars[MessagesRelayed] == float64(1)
	}, time.Second, 10*time.Millisecond, "expected the updater goroutine to apply all queued updates")

	vars := readVars()
	assert.Contains(t, vars, "Uptime")
}
