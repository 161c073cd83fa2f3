package rules

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// ErrType is wrapped by evaluation errors caused by mismatched operand types.
var ErrType = errors.New("type mismatch")

// Facts is the data a condition is evaluated against. Nested maps are
// reached with dotted identifiers.
type Facts map[string]any

type node interface {
	eval(f Facts) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(Facts) (any, error) { return n.value, nil }

type identNode struct {
	name string
	path []string
}

func (n *identNode) eval(f Facts) (any, error) {
	v, _ := lookup(f, n.path)
	return v, nil
}

// lookup resolves a dotted path. Missing segments resolve to nil.
func lookup(f Facts, path []string) (any, bool) {
	var cur any = map[string]any(f)
	for _, seg := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return normalize(cur), true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Facts:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

// normalize maps Go numeric kinds to float64 and slices to []any.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, []any:
		return v
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case float32:
		return float64(x)
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	case uint32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	}
	if _, ok := asMap(v); ok {
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func typeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrType, fmt.Sprintf(format, args...))
}

// truthy accepts bools and treats null as false.
func truthy(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	}
	return false, typeErr("expected bool, got %s", typeName(v))
}

type logicalNode struct {
	and         bool
	left, right node
}

func (n *logicalNode) eval(f Facts) (any, error) {
	lv, err := n.left.eval(f)
	if err != nil {
		return nil, err
	}
	l, err := truthy(lv)
	if err != nil {
		return nil, err
	}
	if n.and && !l {
		return false, nil
	}
	if !n.and && l {
		return true, nil
	}
	rv, err := n.right.eval(f)
	if err != nil {
		return nil, err
	}
	return truthy(rv)
}

type notNode struct{ operand node }

func (n *notNode) eval(f Facts) (any, error) {
	v, err := n.operand.eval(f)
	if err != nil {
		return nil, err
	}
	b, err := truthy(v)
	if err != nil {
		return nil, err
	}
	return !b, nil
}

type negNode struct{ operand node }

func (n *negNode) eval(f Facts) (any, error) {
	v, err := n.operand.eval(f)
	if err != nil {
		return nil, err
	}
	x, ok := v.(float64)
	if !ok {
		return nil, typeErr("cannot negate %s", typeName(v))
	}
	return -x, nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(f Facts) (any, error) {
	l, err := n.left.eval(f)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(f)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	}

	// ordering against a missing value never matches
	if l == nil || r == nil {
		return false, nil
	}

	var cmp int
	switch lv := l.(type) {
	case float64:
		rv, ok := r.(float64)
		if !ok {
			return nil, typeErr("cannot compare number with %s", typeName(r))
		}
		switch {
		case lv < rv:
			cmp = -1
		case lv > rv:
			cmp = 1
		}
	case string:
		rv, ok := r.(string)
		if !ok {
			return nil, typeErr("cannot compare string with %s", typeName(r))
		}
		cmp = strings.Compare(lv, rv)
	default:
		return nil, typeErr("cannot order %s", typeName(l))
	}

	switch n.op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

type inNode struct {
	item, collection node
}

func (n *inNode) eval(f Facts) (any, error) {
	item, err := n.item.eval(f)
	if err != nil {
		return nil, err
	}
	coll, err := n.collection.eval(f)
	if err != nil {
		return nil, err
	}

	switch c := coll.(type) {
	case nil:
		return false, nil
	case []any:
		for _, v := range c {
			if equal(item, v) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return nil, typeErr("cannot search string for %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	}
	if m, ok := asMap(coll); ok {
		key, ok := item.(string)
		if !ok {
			return nil, typeErr("object keys are strings, got %s", typeName(item))
		}
		_, found := m[key]
		return found, nil
	}
	return nil, typeErr("cannot use in with %s", typeName(coll))
}

type arithNode struct {
	op          string
	left, right node
}

func (n *arithNode) eval(f Facts) (any, error) {
	l, err := n.left.eval(f)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(f)
	if err != nil {
		return nil, err
	}

	if n.op == "+" {
		if ls, ok := l.(string); ok {
			if rs, ok := r.(string); ok {
				return ls + rs, nil
			}
		}
	}

	lv, lok := l.(float64)
	rv, rok := r.(float64)
	if !lok || !rok {
		return nil, typeErr("cannot apply %s to %s and %s", n.op, typeName(l), typeName(r))
	}

	switch n.op {
	case "+":
		return lv + rv, nil
	case "-":
		return lv - rv, nil
	case "*":
		return lv * rv, nil
	case "/":
		if rv == 0 {
			return nil, errors.New("division by zero")
		}
		return lv / rv, nil
	default:
		if rv == 0 {
			return nil, errors.New("division by zero")
		}
		return math.Mod(lv, rv), nil
	}
}

type listNode struct{ items []node }

func (n *listNode) eval(f Facts) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type callNode struct {
	name string
	fn   function
	args []node
}

func (n *callNode) eval(f Facts) (any, error) {
	if n.fn.needsIdent {
		_, found := lookup(f, n.args[0].(*identNode).path)
		return found, nil
	}

	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(f)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := n.fn.call(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.name, err)
	}
	return v, nil
}
