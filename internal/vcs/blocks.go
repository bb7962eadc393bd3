package vcs

import (
	"fmt"
	"strings"
)

// SplitBlocks turns text into line blocks. The result always holds at least
// one block, so text and block lists map onto each other one to one.
func SplitBlocks(text string) []string {
	return strings.Split(text, "\n")
}

// JoinBlocks is the inverse of SplitBlocks.
func JoinBlocks(blocks []string) string {
	return strings.Join(blocks, "\n")
}

// Splice replaces content[start:end] with blocks and returns a new slice.
func Splice(content []string, start, end int, blocks []string) ([]string, error) {
	if start < 0 || end < start || end > len(content) {
		return nil, fmt.Errorf("range [%d,%d) outside page of %d blocks", start, end, len(content))
	}
	out := make([]string, 0, len(content)-(end-start)+len(blocks))
	out = append(out, content[:start]...)
	out = append(out, blocks...)
	out = append(out, content[end:]...)
	return out, nil
}

func cloneBlocks(blocks []string) []string {
	out := make([]string, len(blocks))
	copy(out, blocks)
	return out
}
