package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

func TestExecutionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	e := model.Execution{ID: "ex-1", CollectorID: "c1", StartedAt: start, Status: model.ExecutionRunning}
	if err := st.InsertExecution(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	running, err := st.HasRunningExecution(ctx, "c1")
	if err != nil {
		t.Fatalf("has running: %v", err)
	}
	if !running {
		t.Error("expected a running execution after insert")
	}

	done := start.Add(2 * time.Second)
	if err := st.FinalizeExecution(ctx, "ex-1", model.ExecutionSuccess, "", 5, done); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	running, err = st.HasRunningExecution(ctx, "c1")
	if err != nil {
		t.Fatalf("has running after finalize: %v", err)
	}
	if running {
		t.Error("execution should no longer be running")
	}

	out, err := st.ListExecutions(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d executions, want 1", len(out))
	}
	got := out[0]
	if got.Status != model.ExecutionSuccess || got.MetricsCount != 5 {
		t.Errorf("finalized row: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at: got %v, want %v", got.CompletedAt, done)
	}
}

func TestFinalizeExecution_Once(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC()

	e := model.Execution{ID: "ex-1", CollectorID: "c1", StartedAt: start, Status: model.ExecutionRunning}
	if err := st.InsertExecution(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.FinalizeExecution(ctx, "ex-1", model.ExecutionFailed, "boom", 0, start.Add(time.Second)); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Second finalize hits no running row.
	err := st.FinalizeExecution(ctx, "ex-1", model.ExecutionSuccess, "", 9, start.Add(2*time.Second))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("double finalize: got %v, want ErrNotFound", err)
	}

	out, err := st.ListExecutions(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out[0].Status != model.ExecutionFailed || out[0].ErrorMessage != "boom" {
		t.Errorf("first finalize should win: %+v", out[0])
	}
}

func TestFailInterruptedExecutions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	boot := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// Two rows from before this process started, one already finalized, and a
	// run that started after boot.
	rows := []model.Execution{
		{ID: "ex-1", CollectorID: "c1", StartedAt: boot.Add(-time.Hour), Status: model.ExecutionRunning},
		{ID: "ex-2", CollectorID: "c1", StartedAt: boot.Add(-time.Hour), Status: model.ExecutionRunning},
		{ID: "ex-3", CollectorID: "c1", StartedAt: boot.Add(time.Second), Status: model.ExecutionRunning},
	}
	for _, e := range rows {
		if err := st.InsertExecution(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ID, err)
		}
	}
	if err := st.FinalizeExecution(ctx, "ex-2", model.ExecutionSuccess, "", 1, boot.Add(-30*time.Minute)); err != nil {
		t.Fatalf("finalize ex-2: %v", err)
	}

	n, err := st.FailInterruptedExecutions(ctx, boot, boot.Add(time.Minute))
	if err != nil {
		t.Fatalf("fail interrupted: %v", err)
	}
	if n != 1 {
		t.Errorf("interrupted count: got %d, want 1", n)
	}

	out, err := st.ListExecutions(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range out {
		switch e.ID {
		case "ex-1":
			if e.Status != model.ExecutionFailed {
				t.Errorf("stale row: got %s, want failed", e.Status)
			}
		case "ex-2":
			if e.Status != model.ExecutionSuccess {
				t.Errorf("finalized execution should be untouched: %+v", e)
			}
		case "ex-3":
			if e.Status != model.ExecutionRunning {
				t.Errorf("post-boot run should be untouched: %+v", e)
			}
		}
	}
}

func TestListExecutions_Order(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := model.Execution{
			ID:          "ex-" + string(rune('a'+i)),
			CollectorID: "c1",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			Status:      model.ExecutionRunning,
		}
		if err := st.InsertExecution(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	out, err := st.ListExecutions(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("limit: got %d executions, want 2", len(out))
	}
	if out[0].ID != "ex-c" || out[1].ID != "ex-b" {
		t.Errorf("newest-first order: got %s, %s", out[0].ID, out[1].ID)
	}
}
