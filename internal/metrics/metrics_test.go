package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/acpbridge/internal/hooks"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.CapabilityCall("fs/write_text_file", "ok")
	m.CapabilityCall("fs/write_text_file", "ok")
	m.CapabilityCall("fs/write_text_file", "blocked")
	m.HookExecuted(hooks.BeforeWrite, "blocked", 20*time.Millisecond)
	m.FeedbackResubmitted()
	m.FeedbackSurfaced()
	m.FeedbackSurfaced()
	m.SetOpenTerminals(3)
	m.SetPendingPermissions(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.capabilityCalls.WithLabelValues("fs/write_text_file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.capabilityCalls.WithLabelValues("fs/write_text_file", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hookExecutions.WithLabelValues("beforeWrite", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedbackResubmitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedbackSurfaced))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.openTerminals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingPermissions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.hookDuration))
}

func TestServer_ServesMetrics(t *testing.T) {
	m := New()
	m.CapabilityCall("terminal/create", "ok")

	srv := NewServer("127.0.0.1:0", m, logr.Discard())
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body),
		`acpbridge_capability_calls_total{method="terminal/create",result="ok"} 1`))
}
