package evaluation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func newTestService(t *testing.T, observers ...Observer) *Service {
	t.Helper()
	return NewService(newTestEvaluator(t, Options{}), logger.Discard(), observers...)
}

func TestService_EvaluateNotifiesObservers(t *testing.T) {
	var got []MetricSnapshot
	first := ObserverFunc(func(ctx context.Context, s MetricSnapshot) {
		got = append(got, s)
		// Observers receive copies; mutating one must not leak.
		s.Cutoffs[0].Hits = 100
	})

	var second []string
	svc := newTestService(t, first)
	svc.AddObserver(ObserverFunc(func(ctx context.Context, s MetricSnapshot) {
		second = append(second, s.ID)
	}))

	s, err := svc.Evaluate(context.Background(), Request{
		Label:       "baseline",
		GroundTruth: []string{"a"},
		Predictions: [][]string{{"a"}},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if len(got) != 1 || got[0].ID != s.ID || got[0].Label != "baseline" {
		t.Fatalf("first observer got %v", got)
	}
	if len(second) != 1 || second[0] != s.ID {
		t.Errorf("second observer got %v", second)
	}
	if s.Cutoffs[0].Hits != 1 {
		t.Errorf("returned snapshot mutated by observer: %+v", s.Cutoffs[0])
	}
	if h := svc.History(); h[0].Cutoffs[0].Hits != 1 {
		t.Errorf("ledger mutated by observer: %+v", h[0].Cutoffs[0])
	}
}

func TestService_EvaluateRejected(t *testing.T) {
	called := false
	svc := newTestService(t, ObserverFunc(func(context.Context, MetricSnapshot) { called = true }))

	_, err := svc.Evaluate(context.Background(), Request{
		GroundTruth: []string{"a", "b"},
		Predictions: [][]string{{"a"}},
	})
	if !errors.IsValidation(err) {
		t.Fatalf("Evaluate() error = %v, want validation error", err)
	}
	if called {
		t.Error("observers must not run for rejected evaluations")
	}
	if len(svc.History()) != 0 {
		t.Error("rejected evaluation must not be recorded")
	}
}

func TestService_Logging(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "json")
	svc := NewService(newTestEvaluator(t, Options{}), log)

	ctx := logger.ContextWithRequestID(context.Background(), "req-42")
	if _, err := svc.Evaluate(ctx, Request{Label: "nightly", GroundTruth: []string{}, Predictions: [][]string{}}); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"Evaluation recorded"`, `"request_id":"req-42"`, `"run":"nightly"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestService_LogsRejectionAsWarning(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "json")
	svc := NewService(newTestEvaluator(t, Options{}), log)

	_, err := svc.Evaluate(context.Background(), Request{GroundTruth: []string{"a"}})
	if err == nil {
		t.Fatal("Evaluate() should reject mismatched lengths")
	}

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"msg":"Evaluation rejected"`, `"ground_truth":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
	if strings.Contains(out, `"level":"ERROR"`) {
		t.Errorf("client errors must not log at error level: %s", out)
	}
}

func TestService_Cutoffs(t *testing.T) {
	svc := NewService(newTestEvaluator(t, Options{Cutoffs: []int{10}}), nil)
	if got := svc.Cutoffs(); len(got) != 4 || got[3] != 10 {
		t.Errorf("Cutoffs() = %v, want [1 3 5 10]", got)
	}
}
