package json

import (
	"strings"
	"testing"
)

type flagArgs struct {
	FlagName string `json:"flag_name"`
	Value    bool   `json:"value"`
}

func TestDecodePureJSON(t *testing.T) {
	result, err := Decode[flagArgs](`{"flag_name": "gate_open", "value": true}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FlagName != "gate_open" || !result.Value {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDecodeWithCommentary(t *testing.T) {
	for _, response := range []string{
		`Here are the args: {"flag_name": "gate_open", "value": true}`,
		`{"flag_name": "gate_open", "value": true} Done.`,
		"```json\n{\"flag_name\": \"gate_open\", \"value\": true}\n```",
	} {
		result, err := Decode[flagArgs](response)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", response, err)
		}
		if result.FlagName != "gate_open" {
			t.Errorf("%q: expected flag_name 'gate_open', got '%s'", response, result.FlagName)
		}
	}
}

func TestDecodeArray(t *testing.T) {
	result, err := Decode[[]int](`Selected: [2, 5]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 || result[0] != 2 || result[1] != 5 {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestDecodeArgsDoubleEncoded(t *testing.T) {
	args, err := DecodeArgs([]byte(`"{\"indices\": [1, 3]}"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	indices, ok := args["indices"].([]any)
	if !ok || len(indices) != 2 {
		t.Errorf("expected two indices, got %v", args["indices"])
	}
}

func TestDecodeArgsEmpty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		args, err := DecodeArgs([]byte(raw))
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", raw, err)
		}
		if args == nil || len(args) != 0 {
			t.Errorf("%q: expected empty map, got %v", raw, args)
		}
	}
}

func TestNoJSON(t *testing.T) {
	_, err := Decode[flagArgs]("This is just plain text without any JSON.")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to extract valid JSON") {
		t.Errorf("expected 'failed to extract valid JSON' in error, got: %v", err)
	}
}

func TestInvalidJSON(t *testing.T) {
	if _, err := DecodeArgs([]byte(`{"name": "test", value: }`)); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDecodeArgsRejectsNonObject(t *testing.T) {
	if _, err := DecodeArgs([]byte(`[1, 2]`)); err == nil {
		t.Fatal("expected error for array arguments")
	}
}
