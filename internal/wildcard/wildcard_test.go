package wildcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		kind    Kind
		wantErr bool
	}{
		{raw: "parcel.created", kind: Exact},
		{raw: "parcel.*", kind: Prefix},
		{raw: "*.done", kind: Suffix},
		{raw: "*", kind: Prefix},
		{raw: "", kind: Exact},
		{raw: "a.*.b", wantErr: true},
		{raw: "*.a.*", wantErr: true},
		{raw: "**", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := Parse(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.raw, p.String())
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.bc", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", true},
		{"a.*", "a", false},
		{"a.*", "c.b", false},
		{"*.b", "a.b", true},
		{"*.b", "a.c", false},
		{"*", "anything", true},
		{"k*", "k", true},
		{"k*", "key", true},
		{"k*", "ak", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.pattern).Match(tt.input))
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("a*b") })
}
