package main

import (
	"bufio"
	"io"
	"strings"
)

// maxCredentialLine bounds a single credential payload (1 MiB).
const maxCredentialLine = 1 << 20

// ParseStockLines lê um arquivo de credenciais delimitado por quebras de
// linha. Blank lines are dropped, surrounding whitespace is trimmed and
// repeated lines within the same file count as duplicates.
func ParseStockLines(r io.Reader) ([]string, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxCredentialLine)

	var lines []string
	duplicates := 0
	seen := make(map[string]struct{})
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			duplicates++
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return lines, duplicates, nil
}
