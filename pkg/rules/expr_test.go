package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parcelFacts = Facts{
	"parcel": map[string]any{
		"id":        "FI-091-4",
		"area_ha":   12.5,
		"age":       85,
		"species":   []string{"spruce", "pine"},
		"owner":     map[string]any{"type": "private"},
		"protected": false,
	},
	"zone":  "Natura 2000",
	"slope": -4,
}

func TestExprMatch(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"parcel.area_ha > 10", true},
		{"parcel.area_ha >= 12.5 && parcel.age < 100", true},
		{"parcel.area_ha > 10 and not parcel.protected", true},
		{"parcel.area_ha < 1 || parcel.owner.type == 'private'", true},
		{"parcel.area_ha < 1 or parcel.owner.type == \"state\"", false},
		{"'spruce' in parcel.species", true},
		{"'birch' in parcel.species", false},
		{"'Natura' in zone", true},
		{"'owner' in parcel", true},
		{"parcel.age in [80, 85, 90]", true},
		{"contains(parcel.species, 'pine')", true},
		{"contains(zone, '2000')", true},
		{"startsWith(parcel.id, 'FI-')", true},
		{"endsWith(parcel.id, '-9')", false},
		{"len(parcel.species) == 2", true},
		{"len(zone) == 11", true},
		{"lower(zone) == 'natura 2000'", true},
		{"upper(parcel.owner.type) == 'PRIVATE'", true},
		{"exists(parcel.owner.type)", true},
		{"exists(parcel.owner.name)", false},
		{"!exists(parcel.missing)", true},
		{"abs(slope) == 4", true},
		{"min(parcel.age, 100) == 85", true},
		{"max([1, 7, 3]) == 7", true},
		{"parcel.area_ha * 2 - 5 == 20", true},
		{"parcel.age % 10 == 5", true},
		{"(1 + 2) * 3 == 9", true},
		{"1 + 2 * 3 == 7", true},
		{"-parcel.area_ha < 0", true},
		{"'a' + 'b' == 'ab'", true},
		{"'abc' < 'abd'", true},
		{"parcel.missing > 5", false},
		{"parcel.missing == null", true},
		{"parcel.missing", false},
		{"true != false", true},
		{"[] == []", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := Compile(tt.expr)
			require.NoError(t, err)
			got, err := expr.Match(parcelFacts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprShortCircuit(t *testing.T) {
	expr := MustCompile("false && 1 / 0 > 1")
	ok, err := expr.Match(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	expr = MustCompile("true || 'x' > 1")
	ok, err = expr.Match(nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExprEval(t *testing.T) {
	v, err := MustCompile("parcel.area_ha * 2").Eval(parcelFacts)
	require.NoError(t, err)
	assert.Equal(t, 25.0, v)

	v, err = MustCompile("[parcel.age, 'x']").Eval(parcelFacts)
	require.NoError(t, err)
	assert.Equal(t, []any{85.0, "x"}, v)

	assert.Equal(t, "parcel.age > 1", MustCompile("parcel.age > 1").String())
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"parcel.area >",
		"(1 + 2",
		"'unterminated",
		"a ; b",
		"exec('rm -rf /')",
		"os.Exit(1)",
		"len()",
		"len(1, 2)",
		"exists('literal')",
		"[1, 2",
		"a..b",
		"1 2",
		"and",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			require.Error(t, err)
			var serr *SyntaxError
			assert.True(t, errors.As(err, &serr), "%v", err)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	for _, src := range []string{
		"zone > 5",
		"zone * 2",
		"1 / 0",
		"5 % 0",
		"parcel.area_ha",
		"!zone",
		"-zone",
		"abs('x')",
		"1 in 5",
		"parcel.area_ha && true",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := MustCompile(src).Match(parcelFacts)
			assert.Error(t, err)
		})
	}

	_, err := MustCompile("zone > 5").Match(parcelFacts)
	assert.ErrorIs(t, err, ErrType)
}

func TestFunctionsList(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{"contains", "startsWith", "endsWith", "len", "lower", "upper", "exists", "abs", "min", "max"},
		Functions())
}
