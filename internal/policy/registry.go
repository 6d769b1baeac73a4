// Package policy defines the clause registry the audit pipeline validates
// references against. Every gate result carries the clause tags that give
// the check its authority; Gate 4 checks that documentation covers the
// vocabulary and Gate 5 checks that every §-reference resolves to a known
// clause.
//
// The registry is a plain value constructed once at process start and
// passed to consumers; nothing in this package is global or mutable at
// runtime.
package policy

import (
	"regexp"
	"sort"
)

// TagPattern matches a clause reference: a section sign, three digits and
// an optional one-decimal group, e.g. §102 or §300.5. The pattern is strict
// so trailing prose never rides along with the tag.
var TagPattern = regexp.MustCompile(`§\d{3}(?:\.\d+)?`)

// Clause describes one registered policy clause.
type Clause struct {
	Tag      string `json:"tag"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// coreClauses is the primary vocabulary. It is a static table, never
// mutated at runtime.
var coreClauses = []Clause{
	{Tag: "§100", Name: "Charter", Category: "basic"},
	{Tag: "§100.3", Name: "Version Synchronization", Category: "basic"},
	{Tag: "§101", Name: "Documentation Primacy", Category: "basic"},
	{Tag: "§102", Name: "Entropy Control", Category: "basic"},
	{Tag: "§103", Name: "Plan Before Execute", Category: "basic"},
	{Tag: "§104", Name: "Error Discipline", Category: "basic"},
	{Tag: "§105", Name: "Context Preservation", Category: "basic"},
	{Tag: "§106.1", Name: "Workspace Isolation", Category: "technical"},
	{Tag: "§119", Name: "Traceability", Category: "basic"},
	{Tag: "§148", Name: "Minimal Surface", Category: "basic"},
	{Tag: "§200", Name: "Interface Contracts", Category: "technical"},
	{Tag: "§201", Name: "Typed Signatures", Category: "technical"},
	{Tag: "§202", Name: "Dependency Hygiene", Category: "technical"},
	{Tag: "§267", Name: "Tool Boundaries", Category: "technical"},
	{Tag: "§268", Name: "Subprocess Limits", Category: "technical"},
	{Tag: "§269", Name: "Cache Validity", Category: "technical"},
	{Tag: "§300", Name: "Workflow Protocol", Category: "procedural"},
	{Tag: "§300.3", Name: "Verification Gate", Category: "procedural"},
	{Tag: "§300.5", Name: "Entropy Threshold", Category: "procedural"},
	{Tag: "§301", Name: "State Integrity", Category: "procedural"},
	{Tag: "§302", Name: "Checkpoint Immutability", Category: "procedural"},
	{Tag: "§303", Name: "History Append-Only", Category: "procedural"},
	{Tag: "§304", Name: "Forced Transition Audit", Category: "procedural"},
	{Tag: "§305", Name: "Reference Integrity", Category: "procedural"},
	{Tag: "§309", Name: "Structured Records", Category: "documentation"},
	{Tag: "§310", Name: "Status Mirroring", Category: "documentation"},
	{Tag: "§311", Name: "Spec Approval", Category: "documentation"},
	{Tag: "§312", Name: "Coverage Reporting", Category: "documentation"},
	{Tag: "§350", Name: "Cleanup Protocol", Category: "documentation"},
}

// Registry resolves clause tags. The primary table is authoritative; a
// secondary "illustrative" table may extend it with lower priority, and
// secondary entries never shadow primary ones.
type Registry struct {
	primary   map[string]Clause
	secondary map[string]Clause
}

// NewRegistry builds a registry over the built-in core vocabulary.
func NewRegistry() *Registry {
	return NewRegistryWith(coreClauses, nil)
}

// NewRegistryWith builds a registry from explicit tables. Used by tests and
// by callers that load an extended illustrative vocabulary.
func NewRegistryWith(primary, secondary []Clause) *Registry {
	r := &Registry{
		primary:   make(map[string]Clause, len(primary)),
		secondary: make(map[string]Clause, len(secondary)),
	}
	for _, c := range primary {
		r.primary[c.Tag] = c
	}
	for _, c := range secondary {
		if _, ok := r.primary[c.Tag]; !ok {
			r.secondary[c.Tag] = c
		}
	}
	return r
}

// Contains reports whether tag resolves in the merged vocabulary.
func (r *Registry) Contains(tag string) bool {
	if _, ok := r.primary[tag]; ok {
		return true
	}
	_, ok := r.secondary[tag]
	return ok
}

// Lookup returns the clause for tag, preferring the primary table.
func (r *Registry) Lookup(tag string) (Clause, bool) {
	if c, ok := r.primary[tag]; ok {
		return c, true
	}
	c, ok := r.secondary[tag]
	return c, ok
}

// Vocabulary returns the primary tags, sorted. Gate 4 measures
// documentation coverage against this set; illustrative entries are
// excluded on purpose.
func (r *Registry) Vocabulary() []string {
	tags := make([]string, 0, len(r.primary))
	for t := range r.primary {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Size returns the merged vocabulary size.
func (r *Registry) Size() int {
	return len(r.primary) + len(r.secondary)
}
