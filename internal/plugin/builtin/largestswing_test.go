package builtin

import (
	"context"
	"testing"

	"chesscrawler/internal/plugin"
)

type fakeEngine struct {
	scores []int
	calls  int
}

func (f *fakeEngine) Evaluate(ctx context.Context, position string, depth int) (int, error) {
	score := f.scores[f.calls]
	f.calls++
	return score, nil
}

func (f *fakeEngine) Close() error { return nil }

func TestLargestSwingFindsBiggestJump(t *testing.T) {
	g := plugin.Game{Moves: []string{"e4", "e5", "Qh5", "Nc6"}}
	eng := &fakeEngine{scores: []int{20, 15, 400, 390}}

	m, err := LargestSwing{}.Analyze(context.Background(), g, eng)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if m["swing_cp"] != 385 {
		t.Errorf("expected swing 385, got %v", m["swing_cp"])
	}
	if m["ply"] != 3 {
		t.Errorf("expected ply 3, got %v", m["ply"])
	}
}

func TestLargestSwingEmptyGame(t *testing.T) {
	m, err := LargestSwing{}.Analyze(context.Background(), plugin.Game{}, &fakeEngine{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if m["swing_cp"] != 0 {
		t.Errorf("expected 0 swing for empty game, got %v", m)
	}
}
