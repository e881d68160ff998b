package denyproxy

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "object", input: `{"a": 1, "b": [true, null]}`, want: `{"a":1,"b":[true,null]}`},
		{name: "number precision", input: `{"n": 12345678901234567890}`, want: `{"n":12345678901234567890}`},
		{name: "float kept", input: `[1.50, 2e3]`, want: `[1.50,2e3]`},
		{name: "string", input: `"hello"`, want: `"hello"`},
		{name: "no html escaping", input: `{"h":"<b>&</b>"}`, want: `{"h":"<b>&</b>"}`},
		{name: "trailing whitespace", input: "{}\n\t ", want: `{}`},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "truncated", input: `{"a":`, wantErr: true},
		{name: "trailing data", input: `{} {}`, wantErr: true},
		{name: "trailing garbage", input: `[1] x`, wantErr: true},
		{name: "not json", input: `<html></html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseJSON(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseJSON(%q) should fail", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJSON(%q) error: %v", tt.input, err)
			}
			got, err := MarshalJSON(v)
			if err != nil {
				t.Fatalf("MarshalJSON() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("round trip = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseJSON_EmptyIsUnexpectedEOF(t *testing.T) {
	_, err := ParseJSON(strings.NewReader(""))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ParseJSON(\"\") = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestMarshalJSON_SortsKeys(t *testing.T) {
	got, err := MarshalJSON(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"a":2,"b":1}` {
		t.Errorf("MarshalJSON() = %s", got)
	}
}

func TestContentScreener(t *testing.T) {
	p := NewPolicy(nil, []string{"secret", "Forbidden"})
	var s ContentScreener

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "clean", input: `{"msg":"hello"}`, want: true},
		{name: "value match", input: `{"msg":"top secret"}`, want: false},
		{name: "key match", input: `{"secret":1}`, want: false},
		{name: "case sensitive", input: `{"msg":"forbidden"}`, want: true},
		{name: "exact case", input: `["Forbidden"]`, want: false},
		{name: "across tokens", input: `{"sec":"ret"}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseJSON(strings.NewReader(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.IsAllowed(p, v)
			if err != nil {
				t.Fatalf("IsAllowed() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAllowed(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestContentScreener_MatchesSerializedForm(t *testing.T) {
	// Escaped quotes appear as \" in the compact text.
	p := NewPolicy(nil, []string{`\"`})
	v, err := ParseJSON(strings.NewReader(`{"q":"say \"hi\""}`))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := ContentScreener{}.IsAllowed(p, v)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("banned word should match the escaped serialization")
	}
}

func TestContentScreener_NoWords(t *testing.T) {
	var s ContentScreener
	ok, err := s.IsAllowed(NewPolicy(nil, nil), map[string]any{"a": "b"})
	if err != nil || !ok {
		t.Errorf("IsAllowed() = %v, %v; want true, nil", ok, err)
	}
	if !s.AllowsText(nil, "anything") {
		t.Error("nil policy should allow")
	}
}
