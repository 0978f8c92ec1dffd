package workflow

import (
	"fmt"
	"sort"
)

// Catalog maps entity types to their machines. It is built once and read-only afterwards.
type Catalog struct {
	machines map[string]*Machine
}

// NewCatalog indexes machines by name; duplicate names are rejected
func NewCatalog(machines ...*Machine) (*Catalog, error) {
	c := &Catalog{machines: make(map[string]*Machine, len(machines))}
	for _, m := range machines {
		if m == nil {
			continue
		}
		if _, dup := c.machines[m.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate machine %q", ErrInvalidDefinition, m.Name())
		}
		c.machines[m.Name()] = m
	}
	return c, nil
}

// Get returns the machine for entityType
func (c *Catalog) Get(entityType string) (*Machine, bool) {
	m, ok := c.machines[entityType]
	return m, ok
}

// Names returns the registered entity types, sorted
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.machines))
	for name := range c.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
