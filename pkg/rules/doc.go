// Package rules evaluates data-driven regulatory conditions.
//
// Conditions are compiled into a small expression tree and interpreted
// against a fact map. The language has literals, dotted field access, list
// literals, arithmetic, comparisons, in, boolean logic and a fixed set of
// functions. Nothing else can be called.
//
// Invariants:
// - A rule set is compiled completely before it replaces the active one.
// - Missing fields evaluate to null; ordering comparisons against null are false.
// - A failed reload keeps the previously loaded rule sets.
//
// Usage:
//
//	sets, _ := rules.LoadDir("/etc/sylva/rules")
//	engine := rules.NewEngine(sets...)
//	findings, err := engine.Evaluate(rules.Facts{"parcel": map[string]any{"area_ha": 12.0}})
package rules
