package executor

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ContentFlow/internal/actionlog"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/progress"
	"ContentFlow/internal/tools"
)

type scriptedDispatcher struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	delay   time.Duration
	active  int32
	maxSeen int32
}

func (d *scriptedDispatcher) ListTools() []tools.Spec { return nil }

func (d *scriptedDispatcher) Execute(_ context.Context, name string, input tools.Input, _ *tools.Context) (string, error) {
	n := atomic.AddInt32(&d.active, 1)
	defer atomic.AddInt32(&d.active, -1)
	for {
		seen := atomic.LoadInt32(&d.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&d.maxSeen, seen, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
	if d.fail[name] {
		return "", &tools.ToolError{ToolName: name, Message: "backend rejected request"}
	}
	return name + " ok " + input["title"], nil
}

func (d *scriptedDispatcher) called(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == name {
			return true
		}
	}
	return false
}

func statuses(results []plan.StepResult) []plan.Status {
	out := make([]plan.Status, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestFailedDependencyStillAttemptedByDefault(t *testing.T) {
	d := &scriptedDispatcher{fail: map[string]bool{"create_page": true}}
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "a", ToolName: "create_page"},
		{ID: "b", ToolName: "configure_seo", DependsOn: []string{"a"}},
	}}
	e := New(d)
	if e.Policy() != ContinueOnFailure {
		t.Fatalf("default policy must be ContinueOnFailure, got %s", e.Policy())
	}

	results := e.Execute(context.Background(), p, &tools.Context{}, nil)
	if len(results) != 2 || results[0].StepID != "a" || results[1].StepID != "b" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Status != plan.StatusError || results[0].Result != "create_page: backend rejected request" {
		t.Fatalf("unexpected result for a: %+v", results[0])
	}
	if !d.called("configure_seo") || results[1].Status != plan.StatusSuccess {
		t.Fatalf("step b should have been attempted: %+v", results[1])
	}
}

func TestSkipDependentsPolicy(t *testing.T) {
	d := &scriptedDispatcher{fail: map[string]bool{"create_page": true}}
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "a", ToolName: "create_page"},
		{ID: "b", ToolName: "configure_seo", DependsOn: []string{"a"}},
		{ID: "c", ToolName: "publish", DependsOn: []string{"b"}},
		{ID: "d", ToolName: "notify"},
	}}
	results := New(d, WithPolicy(SkipDependents)).Execute(context.Background(), p, nil, nil)
	want := []plan.Status{plan.StatusError, plan.StatusSkipped, plan.StatusSkipped, plan.StatusSuccess}
	for i, s := range statuses(results) {
		if s != want[i] {
			t.Fatalf("step %d: got %s want %s (%+v)", i, s, want[i], results)
		}
	}
	if d.called("configure_seo") || d.called("publish") {
		t.Fatalf("skipped steps must not be dispatched")
	}
}

func TestUnreachableStepsAreSkipped(t *testing.T) {
	d := &scriptedDispatcher{}
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "x", ToolName: "loop_x", DependsOn: []string{"y"}},
		{ID: "y", ToolName: "loop_y", DependsOn: []string{"x"}},
		{ID: "z", ToolName: "after_loop", DependsOn: []string{"y"}},
		{ID: "u", ToolName: "unknown_dep", DependsOn: []string{"ghost"}},
		{ID: "ok", Description: "just a note"},
	}}
	rec := &progress.Recorder{}
	results := New(d).Execute(context.Background(), p, nil, rec)

	want := []plan.Status{plan.StatusSkipped, plan.StatusSkipped, plan.StatusSkipped, plan.StatusSkipped, plan.StatusSuccess}
	for i, s := range statuses(results) {
		if s != want[i] {
			t.Fatalf("step %d: got %s want %s", i, s, want[i])
		}
	}
	if results[4].Result != "just a note" {
		t.Fatalf("commentary step should echo its description, got %q", results[4].Result)
	}
	if len(d.calls) != 0 {
		t.Fatalf("no tool should run, got %v", d.calls)
	}
	if got := len(rec.Events()); got != len(p.Steps) {
		t.Fatalf("expected one step event per step, got %d", got)
	}
}

func TestAcyclicPlanOnlySucceedsOrFails(t *testing.T) {
	d := &scriptedDispatcher{fail: map[string]bool{"t2": true}}
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "1", ToolName: "t1"},
		{ID: "2", ToolName: "t2", DependsOn: []string{"1"}},
		{ID: "3", ToolName: "t3", DependsOn: []string{"1", "2"}},
		{ID: "4", ToolName: "t4", DependsOn: []string{"3"}},
		{ID: "5", Description: "summary", DependsOn: []string{"4", "2"}},
	}}
	results := New(d).Execute(context.Background(), p, nil, nil)
	for i, r := range results {
		if r.StepID != p.Steps[i].ID {
			t.Fatalf("results out of declared order: %+v", results)
		}
		if r.Status == plan.StatusSkipped {
			t.Fatalf("acyclic plan produced a skipped step: %+v", r)
		}
	}
}

func TestIndependentStepsRunConcurrentlyWithinLimit(t *testing.T) {
	d := &scriptedDispatcher{delay: 40 * time.Millisecond}
	var steps []plan.Step
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		steps = append(steps, plan.Step{ID: id, ToolName: "tool_" + id})
	}
	rec := &progress.Recorder{}
	results := New(d, WithMaxParallel(2)).Execute(context.Background(), &plan.Plan{Steps: steps}, nil, rec)

	if max := atomic.LoadInt32(&d.maxSeen); max != 2 {
		t.Fatalf("expected exactly 2 concurrent steps, saw %d", max)
	}
	for i, r := range results {
		if r.StepID != steps[i].ID || r.Status != plan.StatusSuccess {
			t.Fatalf("unexpected result %d: %+v", i, r)
		}
	}
	for _, ev := range rec.Events() {
		update, ok := ev.Data.(StepUpdate)
		if ev.Event != progress.EventStep || !ok || update.StepID == "" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
}

func TestDependencyOrderIsRespected(t *testing.T) {
	d := &scriptedDispatcher{delay: 5 * time.Millisecond}
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "c", ToolName: "third", DependsOn: []string{"b"}},
		{ID: "b", ToolName: "second", DependsOn: []string{"a"}},
		{ID: "a", ToolName: "first"},
	}}
	New(d).Execute(context.Background(), p, nil, nil)
	if len(d.calls) != 3 || d.calls[0] != "first" || d.calls[1] != "second" || d.calls[2] != "third" {
		t.Fatalf("unexpected call order: %v", d.calls)
	}
}

type failingProducer struct {
	mu      sync.Mutex
	records []actionlog.Record
}

func (f *failingProducer) Publish(_ context.Context, r actionlog.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return stdErrors.New("queue unavailable")
}

func (f *failingProducer) Close() error { return nil }

func TestToolStepsArePublishedToActionLog(t *testing.T) {
	producer := &failingProducer{}
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "a", ToolName: "create_page", ToolInput: map[string]string{"title": "Home"}},
		{ID: "b", Description: "note"},
	}}
	tc := &tools.Context{UserID: "u1", ProjectID: "p1", RequestID: "r1"}
	results := New(&scriptedDispatcher{}, WithActionLog(producer)).Execute(context.Background(), p, tc, nil)

	if results[0].Status != plan.StatusSuccess {
		t.Fatalf("publish failure must not affect the step: %+v", results[0])
	}
	if len(producer.records) != 1 {
		t.Fatalf("expected one published record, got %d", len(producer.records))
	}
	rec := producer.records[0]
	if rec.ToolName != "create_page" || rec.UserID != "u1" || rec.RequestID != "r1" || rec.Input != `{"title":"Home"}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestEmptyPlan(t *testing.T) {
	if got := New(nil).Execute(context.Background(), &plan.Plan{}, nil, nil); got != nil {
		t.Fatalf("expected nil results, got %+v", got)
	}
}
