package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

func TestDecodeAndRun_Integration(t *testing.T) {
	cases := []struct {
		file      string
		completed int
	}{
		{file: "engine_room_fire.dot", completed: 5},
		{file: "blackout.yaml"},
		{file: "collision.json"},
	}

	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			path := filepath.Join("..", "scenario", "testdata", tc.file)
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			format, err := scenario.ParseFormat(filepath.Ext(path))
			if err != nil {
				t.Fatal(err)
			}
			sc, err := scenario.Decode(format, data)
			if err != nil {
				t.Fatal(err)
			}

			e := sim.New(
				sim.WithOutcomePolicy(sim.AlwaysSucceed()),
				sim.WithSleeper(sim.InstantSleeper{}),
			)
			if err := e.LoadScenario(sc); err != nil {
				t.Fatal(err)
			}
			if err := e.Run(context.Background()); err != nil {
				t.Fatal(err)
			}

			if e.Lifecycle() != sim.Finished {
				t.Fatalf("expected finished, got %s", e.Lifecycle())
			}
			state := e.State()
			if len(state.Completed) != len(sc.Nodes) {
				t.Fatalf("expected every node completed, got %v of %d", state.Completed, len(sc.Nodes))
			}
			if tc.completed > 0 && len(state.Completed) != tc.completed {
				t.Fatalf("expected %d completed, got %d", tc.completed, len(state.Completed))
			}
			m := e.Metrics()
			if m.TotalReactions != len(sc.Nodes) {
				t.Fatalf("expected %d reactions, got %d", len(sc.Nodes), m.TotalReactions)
			}
		})
	}
}

func TestDecodeAndRun_RootFailureBypassesEverything(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "scenario", "testdata", "engine_room_fire.dot"))
	if err != nil {
		t.Fatal(err)
	}
	sc, err := scenario.Decode(scenario.FormatDOT, data)
	if err != nil {
		t.Fatal(err)
	}

	e := sim.New(
		sim.WithOutcomePolicy(sim.FailNodes("detect")),
		sim.WithSleeper(sim.InstantSleeper{}),
	)
	if err := e.LoadScenario(sc); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	state := e.State()
	if len(state.Completed) != 0 || len(state.Failed) != 1 || state.Failed[0] != "detect" {
		t.Fatalf("unexpected state: %+v", state)
	}
	for _, id := range []string{"alarm", "assess", "muster", "co2"} {
		if got := e.NodeStatus(id); got != sim.StatusBypassed {
			t.Fatalf("expected %s bypassed, got %s", id, got)
		}
	}
	if len(e.Logs()) != 1 {
		t.Fatalf("expected one log entry, got %d", len(e.Logs()))
	}
}
