package recovery

import (
	"context"
	"errors"
	"testing"
)

func TestRunExecutesStepsInOrder(t *testing.T) {
	m := NewManager()
	var order []string
	m.Register("first", func(ctx context.Context) (int, error) {
		order = append(order, "first")
		return 1, nil
	})
	m.Register("second", func(ctx context.Context) (int, error) {
		order = append(order, "second")
		return 2, nil
	})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected steps in registration order, got %v", order)
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	m := NewManager()
	var ran bool
	stepErr := errors.New("outbox unavailable")
	m.Register("failing", func(ctx context.Context) (int, error) {
		return 0, stepErr
	})
	m.Register("after", func(ctx context.Context) (int, error) {
		ran = true
		return 0, nil
	})

	err := m.Run(context.Background())
	if !errors.Is(err, stepErr) {
		t.Errorf("expected first failure returned, got %v", err)
	}
	if !ran {
		t.Error("expected later steps to run despite earlier failure")
	}
}

func TestStepAdapters(t *testing.T) {
	var called bool
	fn := CountlessStep(func(ctx context.Context) error {
		called = true
		return nil
	})
	if n, err := fn(context.Background()); err != nil || n != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", n, err)
	}
	if !called {
		t.Error("expected wrapped action to run")
	}

	sweep := SweepStep(func() int { return 3 })
	if n, err := sweep(context.Background()); err != nil || n != 3 {
		t.Errorf("expected (3, nil), got (%d, %v)", n, err)
	}
}
