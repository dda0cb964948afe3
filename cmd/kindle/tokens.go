package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTokenList reads token ids separated by commas and/or whitespace.
func parseTokenList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no token ids in %q", s)
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}
		out = append(out, id)
	}
	return out, nil
}

func formatTokens(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}
