package format

import "sort"

// Lines holds the byte offsets of every newline in a text.
type Lines []int

func NewLines(text string) Lines {
	var l Lines
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			l = append(l, i)
		}
	}
	return l
}

// At returns the 1-based line holding byte offset off. A newline belongs to
// the line it ends.
func (l Lines) At(off int) int {
	return sort.SearchInts(l, off) + 1
}
