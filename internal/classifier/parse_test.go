//nolint:testpackage // Testing generic parsing helpers from the same package
package classifier

import (
	"errors"
	"testing"
)

func TestParseModelJSON(t *testing.T) {
	t.Parallel()

	type answer struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain object", input: `{"name":"a"}`, want: "a"},
		{name: "json fence", input: "```json\n{\"name\":\"b\"}\n```", want: "b"},
		{name: "bare fence", input: "```\n{\"name\":\"c\"}\n```", want: "c"},
		{name: "surrounding prose", input: "Here you go: {\"name\":\"d\"} hope it helps", want: "d"},
		{name: "no json", input: "I cannot help with that", wantErr: true},
		{name: "truncated", input: `{"name": "e"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseModelJSON[answer](tt.input)
			if tt.wantErr {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("ParseModelJSON() error = %v, want *ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseModelJSON() unexpected error: %v", err)
			}
			if got.Name != tt.want {
				t.Errorf("ParseModelJSON() name = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestParseModelJSON_Array(t *testing.T) {
	t.Parallel()

	got, err := ParseModelJSON[[]int]("```json\n[1, 2, 3]\n```")
	if err != nil {
		t.Fatalf("ParseModelJSON() unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}
