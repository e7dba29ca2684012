package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesRelayCollectors(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelayMetrics(reg)
	NewWebSocketMetrics(reg)
	NewRedisMetrics(reg)
	relay.MalformedMessages.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "keyrelay_relay_malformed_messages_total 1")
	assert.Contains(t, string(body), "go_build_info")
	assert.Contains(t, string(body), "go_goroutines")
}
