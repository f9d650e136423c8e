package health_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/health"
)

func TestReadyDrainsDuringShutdown(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	handler := health.Handler{}

	readiness := func() (int, map[string]string) {
		rr := httptest.NewRecorder()
		handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		var body map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		return rr.Code, body
	}

	code, body := readiness()
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, body, "server")

	health.SetReady(false)
	code, body = readiness()
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting down", body["server"])
	require.Equal(t, "disabled", body["redis"])

	// liveness is unaffected so the process is not restarted mid-drain
	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
