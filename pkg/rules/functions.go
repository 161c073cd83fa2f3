package rules

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

type function struct {
	minArgs int
	// maxArgs < 0 means variadic.
	maxArgs int
	// needsIdent functions receive an unevaluated field name.
	needsIdent bool
	call       func(args []any) (any, error)
}

func (fn function) arity() string {
	switch {
	case fn.maxArgs < 0:
		return fmt.Sprintf("at least %d", fn.minArgs)
	case fn.minArgs == fn.maxArgs:
		return fmt.Sprintf("%d", fn.minArgs)
	default:
		return fmt.Sprintf("%d to %d", fn.minArgs, fn.maxArgs)
	}
}

// functions is the complete set of callable names.
var functions = map[string]function{
	"contains":   {minArgs: 2, maxArgs: 2, call: fnContains},
	"startsWith": {minArgs: 2, maxArgs: 2, call: stringPredicate(strings.HasPrefix)},
	"endsWith":   {minArgs: 2, maxArgs: 2, call: stringPredicate(strings.HasSuffix)},
	"len":        {minArgs: 1, maxArgs: 1, call: fnLen},
	"lower":      {minArgs: 1, maxArgs: 1, call: stringMap(strings.ToLower)},
	"upper":      {minArgs: 1, maxArgs: 1, call: stringMap(strings.ToUpper)},
	"exists":     {minArgs: 1, maxArgs: 1, needsIdent: true},
	"abs":        {minArgs: 1, maxArgs: 1, call: fnAbs},
	"min":        {minArgs: 1, maxArgs: -1, call: extremum(math.Min)},
	"max":        {minArgs: 1, maxArgs: -1, call: extremum(math.Max)},
}

// Functions lists the names usable in conditions.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	return names
}

func fnContains(args []any) (any, error) {
	switch c := args[0].(type) {
	case nil:
		return false, nil
	case string:
		s, ok := args[1].(string)
		if !ok {
			return nil, typeErr("expected string, got %s", typeName(args[1]))
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, v := range c {
			if equal(v, args[1]) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, typeErr("expected string or list, got %s", typeName(args[0]))
}

func stringPredicate(pred func(s, affix string) bool) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		if args[0] == nil {
			return false, nil
		}
		s, ok1 := args[0].(string)
		affix, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, typeErr("expected strings, got %s and %s", typeName(args[0]), typeName(args[1]))
		}
		return pred(s, affix), nil
	}
}

func stringMap(fn func(string) string) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		switch s := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return fn(s), nil
		}
		return nil, typeErr("expected string, got %s", typeName(args[0]))
	}
}

func fnLen(args []any) (any, error) {
	switch v := args[0].(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(utf8.RuneCountInString(v)), nil
	case []any:
		return float64(len(v)), nil
	}
	if m, ok := asMap(args[0]); ok {
		return float64(len(m)), nil
	}
	return nil, typeErr("len of %s", typeName(args[0]))
}

func fnAbs(args []any) (any, error) {
	x, ok := args[0].(float64)
	if !ok {
		return nil, typeErr("expected number, got %s", typeName(args[0]))
	}
	return math.Abs(x), nil
}

func extremum(pick func(a, b float64) float64) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		values := args
		if len(args) == 1 {
			list, ok := args[0].([]any)
			if !ok {
				return nil, typeErr("expected list or numbers, got %s", typeName(args[0]))
			}
			if len(list) == 0 {
				return nil, nil
			}
			values = list
		}
		var best float64
		for i, v := range values {
			x, ok := normalize(v).(float64)
			if !ok {
				return nil, typeErr("expected number, got %s", typeName(v))
			}
			if i == 0 {
				best = x
				continue
			}
			best = pick(best, x)
		}
		return best, nil
	}
}
