package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgs(t *testing.T) {
	meta := Metadata{Name: "t", Parameters: []Parameter{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "count", Type: TypeInteger},
		{Name: "weight", Type: TypeNumber},
		{Name: "ok", Type: TypeBoolean},
		{Name: "list", Type: TypeArray},
		{Name: "obj", Type: TypeObject},
	}}

	valid := map[string]any{
		"name": "x", "count": float64(3), "weight": 1.5, "ok": true,
		"list": []any{"anything", 1}, "obj": map[string]any{}, "extra": "ignored",
	}
	assert.NoError(t, ValidateArgs(meta, valid))
	assert.NoError(t, ValidateArgs(meta, map[string]any{"name": "x", "count": nil}))

	invalid := []map[string]any{
		{},
		{"name": nil},
		{"name": 3.0},
		{"name": "x", "count": 2.5},
		{"name": "x", "weight": "heavy"},
		{"name": "x", "ok": "yes"},
		{"name": "x", "list": "a,b"},
		{"name": "x", "obj": []any{}},
	}
	for _, args := range invalid {
		assert.ErrorIs(t, ValidateArgs(meta, args), ErrInvalidArguments, "%v", args)
	}
}
