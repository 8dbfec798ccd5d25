package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
)

func TestPrometheusCounters(t *testing.T) {
	p := NewPrometheus()

	p.ActionOutcome(model.ActionSendEmail, model.OutcomeSucceeded, 20*time.Millisecond)
	p.ActionOutcome(model.ActionSendEmail, model.OutcomeSucceeded, 30*time.Millisecond)
	p.ActionOutcome(model.ActionSendEmail, model.OutcomeFailed, time.Second)
	p.DefinitionResult(model.ResultPartial)
	p.AuditDropped("queue_full")
	p.PendingSwept("DONE")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.actionOutcomes.WithLabelValues("SEND_EMAIL", "SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.actionOutcomes.WithLabelValues("SEND_EMAIL", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.definitions.WithLabelValues("PARTIAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.auditDropped.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.pendingSwept.WithLabelValues("DONE")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.actionDuration))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus()
	p.DefinitionResult(model.ResultCompleted)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `crewflow_definition_results_total{status="COMPLETED"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.ActionOutcome(model.ActionWebhook, model.OutcomeFailed, time.Second)
	r.DefinitionResult(model.ResultSkipped)
	r.AuditDropped("closed")
	r.PendingSwept("FAILED")
}
