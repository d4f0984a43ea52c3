package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/micromdm/nanorpa/rpa"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector("test")
	ctx := context.Background()
	start := time.Now()

	task := &rpa.Task{ID: "t1", Status: rpa.TaskCompleted, StartTime: start, EndTime: start.Add(2 * time.Second)}
	rec := &rpa.StepRecord{StepID: "s1", Type: rpa.StepAPICall, Status: rpa.StepCompleted, Attempts: 3, StartTime: start, EndTime: start.Add(time.Second)}
	bot := &rpa.Bot{ID: "b1", Industry: "logistics", Metrics: rpa.PerformanceMetrics{ExecutionCount: 4, SuccessRate: 75}}

	c.StepFinished(ctx, task, rec)
	c.TaskFinished(ctx, task, bot)
	c.TaskFinished(ctx, &rpa.Task{ID: "t2", Status: rpa.TaskFailed}, nil)

	if have, want := testutil.ToFloat64(c.steps.WithLabelValues("api_call", "completed")), 1.0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := testutil.ToFloat64(c.tasks.WithLabelValues("completed")), 1.0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := testutil.ToFloat64(c.tasks.WithLabelValues("failed")), 1.0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := testutil.ToFloat64(c.botSuccessRate.WithLabelValues("b1", "logistics")), 75.0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestHandlerQueueDepth(t *testing.T) {
	c := NewCollector("test")
	c.RegisterQueueDepth("test", func() int { return 7 })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "test_queue_depth 7") {
		t.Errorf("queue depth not exported:\n%s", body)
	}
}
