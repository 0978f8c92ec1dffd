package workflow

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative form of a Machine as read from YAML
type Definition struct {
	Name        string                 `yaml:"name"`
	Initial     string                 `yaml:"initial"`
	States      []string               `yaml:"states"`
	Events      []string               `yaml:"events"`
	Transitions []TransitionDefinition `yaml:"transitions"`
}

// TransitionDefinition is one declared transition. Actors may be empty.
type TransitionDefinition struct {
	From   string   `yaml:"from"`
	Event  string   `yaml:"event"`
	To     string   `yaml:"to"`
	Actors []string `yaml:"actors"`
}

type definitionFile struct {
	Machines []Definition `yaml:"machines"`
}

// Build turns the definition into an immutable Machine
func (d Definition) Build() (*Machine, error) {
	b := NewBuilder(d.Name).Initial(State(d.Initial))
	for _, s := range d.States {
		b.States(State(s))
	}
	for _, e := range d.Events {
		b.Events(Event(e))
	}
	for _, t := range d.Transitions {
		b.Configure(State(t.From)).PermitFor(Event(t.Event), State(t.To), t.Actors...)
	}
	return b.Build()
}

// LoadDefinitions reads a YAML document of the form
//
//	machines:
//	  - name: content_item
//	    initial: draft
//	    states: [draft, in_review]
//	    events: [submit]
//	    transitions:
//	      - {from: draft, event: submit, to: in_review, actors: [author]}
func LoadDefinitions(r io.Reader) ([]*Machine, error) {
	var file definitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode machine definitions: %w", err)
	}

	machines := make([]*Machine, 0, len(file.Machines))
	for i, def := range file.Machines {
		m, err := def.Build()
		if err != nil {
			return nil, fmt.Errorf("machine #%d: %w", i, err)
		}
		machines = append(machines, m)
	}
	return machines, nil
}

// LoadDefinitionsFile reads machine definitions from a YAML file
func LoadDefinitionsFile(path string) ([]*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open machine definitions: %w", err)
	}
	defer f.Close()

	return LoadDefinitions(f)
}
