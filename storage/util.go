package storage

import (
	"fmt"
	"strings"
)

// Splits ids into consecutive slices of at most size elements.
func Chunks(ids []int, size int) [][]int {
	if size <= 0 {
		size = MaxQueryIDs
	}

	chunks := [][]int{}
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func inChunks(ids []int, size int, f func(chunk []int) error) error {
	for _, chunk := range Chunks(ids, size) {
		if err := f(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Rewrites '?' placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
