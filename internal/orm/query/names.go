package query

import (
	"fmt"
	"maps"
)

// NameGenerator hands out unique join aliases and parameter names for one
// query.
type NameGenerator struct {
	joins  int
	params map[string]bool
}

// NewNameGenerator creates an empty generator
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{params: make(map[string]bool)}
}

// JoinAlias returns "<association>_a<n>", n counting joins of the query
func (g *NameGenerator) JoinAlias(association string) string {
	alias := fmt.Sprintf("%s_a%d", association, g.joins)
	g.joins++
	return alias
}

// ParameterName returns base when unused, base_<n> otherwise. The returned
// name is reserved.
func (g *NameGenerator) ParameterName(base string) string {
	name := base
	for n := 1; g.params[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	g.params[name] = true
	return name
}

func (g *NameGenerator) reserve(name string) { g.params[name] = true }

func (g *NameGenerator) clone() *NameGenerator {
	return &NameGenerator{joins: g.joins, params: maps.Clone(g.params)}
}
