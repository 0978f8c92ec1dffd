package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDefinitions = `
machines:
  - name: question_ticket
    initial: open
    states: [open, closed]
    events: [close, reopen]
    transitions:
      - from: open
        event: close
        to: closed
      - from: closed
        event: reopen
        to: open
        actors: [editor, admin]
`

func TestLoadDefinitions(t *testing.T) {
	machines, err := LoadDefinitions(strings.NewReader(sampleDefinitions))
	if err != nil {
		t.Fatalf("LoadDefinitions() error = %v", err)
	}
	if len(machines) != 1 {
		t.Fatalf("expected 1 machine, got %d", len(machines))
	}

	m := machines[0]
	if m.Name() != "question_ticket" || m.Initial() != "open" {
		t.Errorf("unexpected machine %s/%s", m.Name(), m.Initial())
	}

	d := CanTransition(m, TransitionContext{CurrentState: "closed", Event: "reopen", Actor: "viewer"})
	if !errors.Is(d.Err, ErrActorNotPermitted) {
		t.Errorf("expected actor rejection, got %+v", d)
	}
	d = CanTransition(m, TransitionContext{CurrentState: "closed", Event: "reopen", Actor: "admin"})
	if !d.Allowed || d.NextState != "open" {
		t.Errorf("expected reopen to be allowed, got %+v", d)
	}
}

func TestLoadDefinitions_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "machines:\n  - name: x\n    colour: red\n"},
		{"undeclared state", "machines:\n  - name: x\n    states: [a]\n    transitions:\n      - {from: a, event: go, to: b}\n"},
		{"malformed yaml", "machines: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadDefinitions(strings.NewReader(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadDefinitionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machines.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinitions), 0o600); err != nil {
		t.Fatal(err)
	}

	machines, err := LoadDefinitionsFile(path)
	if err != nil {
		t.Fatalf("LoadDefinitionsFile() error = %v", err)
	}
	if len(machines) != 1 {
		t.Errorf("expected 1 machine, got %d", len(machines))
	}

	if _, err := LoadDefinitionsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
