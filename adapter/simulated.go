package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainsentry/reactor/playbook"
)

type SimulatedCall struct {
	Kind      playbook.StepKind
	Target    string
	EntityRef string
	Summary   string
}

// Simulator records hypothetical outcomes without contacting any external
// target. Dry-run executions route every step through it.
type Simulator struct {
	mu    sync.Mutex
	calls []SimulatedCall
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Calls() []SimulatedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Simulator) record(call SimulatedCall) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// Invoke mirrors Registry.Invoke but performs no I/O.
func (s *Simulator) Invoke(_ context.Context, kind playbook.StepKind, target, entityRef, summary string) (string, error) {
	s.record(SimulatedCall{Kind: kind, Target: target, EntityRef: entityRef, Summary: summary})
	return fmt.Sprintf("simulated_%s", kind), nil
}
