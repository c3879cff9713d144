package lib

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func finishedTestRun(status string) *MigrationRun {
	run := newTestRun("003_add_period_length")
	run.Status = status
	run.Statements = []StatementResult{
		{Index: 1, Status: STATEMENT_STATUS_EXECUTED, RowsAffected: 0},
		{Index: 2, Status: STATEMENT_STATUS_EXECUTED, RowsAffected: 42},
	}
	run.EndTimestamp = run.StartTimestamp + 1500

	return run
}

func TestMigrationMetricsObserve(t *testing.T) {
	metrics := NewMigrationMetrics("")
	metrics.Observe(finishedTestRun(RUN_STATUS_APPLIED))

	if got := testutil.ToFloat64(metrics.Success); got != 1 {
		t.Errorf("got success %v, expected 1", got)
	}
	if got := testutil.ToFloat64(metrics.Duration); got != 1.5 {
		t.Errorf("got duration %v, expected 1.5", got)
	}
	if got := testutil.ToFloat64(metrics.StatementsExecuted); got != 2 {
		t.Errorf("got %v statements, expected 2", got)
	}
	if got := testutil.ToFloat64(metrics.RowsAffected); got != 42 {
		t.Errorf("got %v rows, expected 42", got)
	}

	metrics.Observe(finishedTestRun(RUN_STATUS_FAILED))
	if got := testutil.ToFloat64(metrics.Success); got != 0 {
		t.Errorf("got success %v after a failed run, expected 0", got)
	}
	if got := testutil.ToFloat64(metrics.Runs.WithLabelValues(RUN_STATUS_APPLIED)); got != 1 {
		t.Errorf("got %v applied runs, expected 1", got)
	}
	if got := testutil.CollectAndCount(metrics.Runs); got != 2 {
		t.Errorf("got %d run series, expected 2", got)
	}
}

func TestMigrationMetricsPush(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metrics := NewMigrationMetrics(server.URL)
	metrics.Observe(finishedTestRun(RUN_STATUS_APPLIED))

	if err := metrics.Push(context.Background(), "003_add_period_length"); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPut {
		t.Errorf("got method %s, expected PUT", method)
	}
	if path != "/metrics/job/migration_runner/migration/003_add_period_length" {
		t.Errorf("got path %s", path)
	}
}

func TestMigrationMetricsPushWithoutGateway(t *testing.T) {
	var metrics *MigrationMetrics
	if err := metrics.Push(context.Background(), "001_add_user_onboarding_columns"); err != nil {
		t.Errorf("a nil collector must not push, got %v", err)
	}
	if err := NewMigrationMetrics("").Push(context.Background(), "001_add_user_onboarding_columns"); err != nil {
		t.Errorf("an empty gateway must not push, got %v", err)
	}
}
