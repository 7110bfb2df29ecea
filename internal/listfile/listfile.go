// Package listfile reads the newline-delimited directory and classpath lists.
package listfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Null is the sentinel line that marks an absent entry.
const Null = "null"

// Read returns the entries of the list file at path. Lines equal to Null and
// blank lines are skipped. On a read error the entries read so far are
// returned together with the error.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list file: %w", err)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return entries, fmt.Errorf("failed to read list file %s: %w", path, err)
	}
	return entries, nil
}

// Parse reads list entries from r.
func Parse(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == Null || strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, line)
	}
	return entries, scanner.Err()
}

// JoinClassPath renders entries as a classpath string with the current
// directory first.
func JoinClassPath(entries []string) string {
	cp := "."
	for _, e := range entries {
		cp += ":" + e
	}
	return cp
}

// SplitClassPath is the inverse of JoinClassPath. Empty elements are dropped.
func SplitClassPath(cp string) []string {
	var out []string
	for _, e := range strings.Split(cp, ":") {
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
