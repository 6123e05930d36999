package v1

import "testing"

func TestSimulationDeepCopyIsIndependent(t *testing.T) {
	dur := "10m"
	sim := &Simulation{
		Spec: SimulationSpec{
			Driver:   SimulationDriverConfig{Namespace: "ns", Image: "img", Port: 8080, Speed: 1.0},
			Duration: &dur,
			Hooks: &SimulationHooksConfig{
				PreStartHooks: []SimulationHook{{Cmd: "echo", Args: []string{"hi"}}},
			},
		},
		Status: SimulationStatus{State: SimulationStateRunning},
	}

	copied := sim.DeepCopyObject().(*Simulation)

	*copied.Spec.Duration = "20m"
	copied.Spec.Hooks.PreStartHooks[0].Cmd = "mutated"

	if *sim.Spec.Duration != "10m" {
		t.Errorf("mutation of copy leaked into original duration: %s", *sim.Spec.Duration)
	}
	if sim.Spec.Hooks.PreStartHooks[0].Cmd != "echo" {
		t.Errorf("mutation of copy leaked into original hook: %s", sim.Spec.Hooks.PreStartHooks[0].Cmd)
	}
}

func TestSimulationStateIsTerminal(t *testing.T) {
	cases := map[SimulationState]bool{
		SimulationStateBlocked:      false,
		SimulationStateInitializing: false,
		SimulationStateRunning:      false,
		SimulationStateRetrying:     false,
		SimulationStateFinished:     true,
		SimulationStateFailed:       true,
	}
	for state, want := range cases {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestMetricsDefaults(t *testing.T) {
	sim := &Simulation{}
	if got := sim.MetricsNamespace(); got != DefaultMetricsNamespace {
		t.Errorf("got %q, want default", got)
	}
	if got := sim.MetricsServiceAccount(); got != DefaultMetricsServiceAccount {
		t.Errorf("got %q, want default", got)
	}

	ns := "custom-ns"
	sim.Spec.Metrics = &SimulationMetricsConfig{Namespace: &ns}
	if got := sim.MetricsNamespace(); got != ns {
		t.Errorf("got %q, want %q", got, ns)
	}
}
