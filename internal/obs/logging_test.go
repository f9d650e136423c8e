package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/obs"
)

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "json", "debug")

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/carts/{cartKey}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "cartKey") {
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("{}"))
		}
	})

	cases := map[string]string{"desk": "info", "missing": "warn", "broken": "error"}
	for key, level := range cases {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/carts/"+key, nil)
		req.Header.Set(obs.UserHeader, "Sam")
		r.ServeHTTP(httptest.NewRecorder(), req)

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line), key)
		require.Equal(t, level, line["level"], key)
		require.Equal(t, "/carts/{cartKey}", line["route"])
		require.Equal(t, "Sam", line["user"])
		require.Equal(t, "http_request", line["message"])
	}
}

func TestNewLoggerToFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "json", "loud")
	logger.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}
