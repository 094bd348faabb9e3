package main

import (
	"strings"
	"testing"
)

func TestParseStockLines(t *testing.T) {
	cases := []struct {
		name          string
		input         string
		expectedLines []string
		expectedDupes int
	}{
		{
			name:          "plain lines",
			input:         "CODE-A\nCODE-B\nCODE-C\n",
			expectedLines: []string{"CODE-A", "CODE-B", "CODE-C"},
			expectedDupes: 0,
		},
		{
			name:          "blank lines and whitespace",
			input:         "  CODE-A  \n\n\t\nCODE-B\n   \n",
			expectedLines: []string{"CODE-A", "CODE-B"},
			expectedDupes: 0,
		},
		{
			name:          "duplicates within file",
			input:         "CODE-A\nCODE-B\nCODE-A\nCODE-A\n",
			expectedLines: []string{"CODE-A", "CODE-B"},
			expectedDupes: 2,
		},
		{
			name:          "windows line endings",
			input:         "CODE-A\r\nCODE-B\r\n",
			expectedLines: []string{"CODE-A", "CODE-B"},
			expectedDupes: 0,
		},
		{
			name:          "no trailing newline",
			input:         "CODE-A\nCODE-B",
			expectedLines: []string{"CODE-A", "CODE-B"},
			expectedDupes: 0,
		},
		{
			name:          "empty file",
			input:         "",
			expectedLines: nil,
			expectedDupes: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines, dupes, err := ParseStockLines(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if dupes != tc.expectedDupes {
				t.Errorf("Expected %d duplicates, got %d", tc.expectedDupes, dupes)
			}
			if len(lines) != len(tc.expectedLines) {
				t.Fatalf("Expected %d lines, got %d (%v)", len(tc.expectedLines), len(lines), lines)
			}
			for i, expected := range tc.expectedLines {
				if lines[i] != expected {
					t.Errorf("Line %d: expected %q, got %q", i, expected, lines[i])
				}
			}
		})
	}
}

func TestParseStockLinesPreservesOrder(t *testing.T) {
	input := "Z-9\nA-1\nM-5\n"

	lines, _, err := ParseStockLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"Z-9", "A-1", "M-5"}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("Expected upload order to be preserved, got %v", lines)
			break
		}
	}
}
