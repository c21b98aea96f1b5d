package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/richinex/gamemaster/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataSchema(t *testing.T) {
	meta := Metadata{
		Name:        "pick",
		Description: "pick things",
		Parameters: []Parameter{
			{Name: "ids", Type: TypeArray, Items: TypeInteger, Required: true},
			{Name: "tags", Type: TypeArray},
			{Name: "note", Type: TypeString},
		},
	}

	schema := meta.Schema()
	assert.Equal(t, TypeObject, schema["type"])
	assert.Equal(t, []string{"ids"}, schema["required"])

	props := schema["properties"].(map[string]any)
	ids := props["ids"].(map[string]any)
	assert.Equal(t, map[string]any{"type": TypeInteger}, ids["items"])
	tags := props["tags"].(map[string]any)
	assert.Equal(t, map[string]any{"type": TypeString}, tags["items"])
	_, hasItems := props["note"].(map[string]any)["items"]
	assert.False(t, hasItems)

	def := meta.Definition()
	assert.Equal(t, "pick", def.Name)
	assert.Equal(t, schema, def.Parameters)
}

func TestResultJSON(t *testing.T) {
	ok := Result{CallID: "1", Name: "roll", Value: map[string]int{"d20": 17}}
	assert.JSONEq(t, `{"success":true,"tool":"roll","output":{"d20":17}}`, ok.Text())

	failed := Result{CallID: "2", Name: "roll", Err: errors.New("dice lost")}
	assert.JSONEq(t, `{"success":false,"tool":"roll","error":"dice lost"}`, failed.Text())

	msg := failed.Message()
	assert.Equal(t, llm.RoleTool, msg.Role)
	assert.Equal(t, "2", msg.ToolCallID)
	assert.Equal(t, "roll", msg.Name)
	assert.True(t, msg.IsError)
}

func TestResultTextUnserializableValue(t *testing.T) {
	r := Result{Name: "bad", Value: make(chan int)}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Text()), &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Contains(t, decoded["error"], "unserializable")
}

func TestExecutionErrorClassification(t *testing.T) {
	cause := errors.New("db down")
	err := error(&ExecutionError{Tool: "set_world_flag", Err: cause})
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "set_world_flag")
}

func TestCallBind(t *testing.T) {
	var dst struct {
		Skills map[string]int `json:"skills"`
	}
	call := Call{Args: map[string]any{"skills": map[string]any{"stealth": float64(16)}}}
	require.NoError(t, call.Bind(&dst))
	assert.Equal(t, 16, dst.Skills["stealth"])

	bad := Call{Args: map[string]any{"skills": "lots"}}
	assert.ErrorIs(t, bad.Bind(&dst), ErrInvalidArguments)
}

func TestFuncHandler(t *testing.T) {
	h := NewFunc(Spec{Metadata: Metadata{Name: "echo"}}, func(_ context.Context, c Call) (any, error) {
		return c.Args["v"], nil
	})
	assert.Equal(t, "echo", h.Spec().Name)
	v, err := h.Execute(context.Background(), Call{Args: map[string]any{"v": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}
