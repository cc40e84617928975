package ai

import (
	"testing"
)

type testTriplet struct {
	Head     string `json:"head"`
	Relation string `json:"relation"`
	Tail     string `json:"tail"`
}

type testTriplets struct {
	Triplets []testTriplet `json:"triplets"`
}

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	want := testTriplet{Head: "Aspirin", Relation: "INHIBITS", Tail: "COX-1"}

	tests := []struct {
		name  string
		input string
	}{
		{name: "valid json object", input: `{"head":"Aspirin","relation":"INHIBITS","tail":"COX-1"}`},
		{name: "unquoted keys and single quotes", input: `{head: 'Aspirin', relation: 'INHIBITS', tail: 'COX-1'}`},
		{name: "trailing comma", input: `{"head":"Aspirin","relation":"INHIBITS","tail":"COX-1",}`},
		{name: "missing end bracket", input: `{"head":"Aspirin","relation":"INHIBITS","tail":"COX-1"`},
		{name: "stringified object", input: `"{\"head\":\"Aspirin\",\"relation\":\"INHIBITS\",\"tail\":\"COX-1\"}"`},
		{name: "duplicate leading brace", input: "{\n{\n\"head\":\"Aspirin\",\"relation\":\"INHIBITS\",\"tail\":\"COX-1\"}\n"},
		{name: "json code fence", input: "```json\n{\"head\":\"Aspirin\",\"relation\":\"INHIBITS\",\"tail\":\"COX-1\"}\n```"},
		{name: "bare code fence", input: "```\n{\"head\":\"Aspirin\",\"relation\":\"INHIBITS\",\"tail\":\"COX-1\"}```"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got testTriplet
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, want)
			}
		})
	}
}

func TestUnmarshalFlexible_NestedList(t *testing.T) {
	input := "```json\n{\"triplets\": [{head: 'Statins', relation: 'LOWER', tail: 'LDL cholesterol'},]}\n```"

	var got testTriplets
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got.Triplets) != 1 || got.Triplets[0].Tail != "LDL cholesterol" {
		t.Fatalf("unexpected triplets: %+v", got.Triplets)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got testTriplet
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "```json\n{}\n```", want: "{}"},
		{in: "  ```\n[1,2]\n```  ", want: "[1,2]"},
		{in: "```unterminated", want: "```unterminated"},
	}
	for _, tc := range tests {
		if got := StripCodeFence(tc.in); got != tc.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGenerateSchema_NoAdditionalProperties(t *testing.T) {
	schema := GenerateSchema(&testTriplets{})
	if schema == nil {
		t.Fatalf("expected a schema")
	}
}
