package answer

import (
	"slices"
	"testing"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		in          string
		body        string
		corrections string
		sources     []string
	}{
		{
			name: "plain",
			in:   "Publish the plan in the EIS.",
			body: "Publish the plan in the EIS.",
		},
		{
			name:    "bullet sources",
			in:      "Answer line one.\nAnswer line two.\n\nSources:\n- 223-FZ\n* Regulation, section 5\n1. Guide",
			body:    "Answer line one.\nAnswer line two.",
			sources: []string{"223-FZ", "Regulation, section 5", "Guide"},
		},
		{
			name:        "corrections and inline sources",
			in:          "Corrections: закупка\nText.\nSources: 223-FZ; Regulation",
			body:        "Text.",
			corrections: "закупка",
			sources:     []string{"223-FZ", "Regulation"},
		},
		{
			name:    "russian labels and markdown",
			in:      "Ответ.\n**Источники:**\n- 223-ФЗ",
			body:    "Ответ.",
			sources: []string{"223-ФЗ"},
		},
		{
			name: "empty sources",
			in:   "Text.\nSources:",
			body: "Text.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Split(tc.in)
			if got.Body != tc.body {
				t.Fatalf("body = %q, want %q", got.Body, tc.body)
			}
			if got.Corrections != tc.corrections {
				t.Fatalf("corrections = %q, want %q", got.Corrections, tc.corrections)
			}
			if !slices.Equal(got.Sources, tc.sources) {
				t.Fatalf("sources = %q, want %q", got.Sources, tc.sources)
			}
		})
	}
}
