package rules

import (
	"fmt"
)

// Expr is a compiled condition. Conditions can only read facts and call the
// functions listed by Functions.
type Expr struct {
	src  string
	root node
}

// Compile parses src into an Expr.
func Compile(src string) (*Expr, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, root: root}, nil
}

// MustCompile is Compile for expressions known at compile time.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string { return e.src }

// Eval returns the value of the expression for facts.
func (e *Expr) Eval(facts Facts) (any, error) {
	return e.root.eval(facts)
}

// Match evaluates the expression as a condition. A null result is false;
// any other non-bool result is an error.
func (e *Expr) Match(facts Facts) (bool, error) {
	v, err := e.root.eval(facts)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.src, err)
	}
	b, err := truthy(v)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.src, err)
	}
	return b, nil
}
