package main

import (
	"slices"
	"testing"
)

func TestParseTokenList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "5,17,42", want: []int{5, 17, 42}},
		{in: "5 17 42", want: []int{5, 17, 42}},
		{in: " 5, 17 ,\t42\n", want: []int{5, 17, 42}},
		{in: "0", want: []int{0}},
		{in: "-3", want: []int{-3}},
		{in: "", wantErr: true},
		{in: " , ", wantErr: true},
		{in: "5,x", wantErr: true},
		{in: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTokenList(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseTokenList(%q) = %v, expected error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTokenList(%q): %v", tt.in, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("parseTokenList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	t.Parallel()

	if got := formatTokens([]int{5, 17, 42}); got != "5 17 42" {
		t.Fatalf("formatTokens = %q", got)
	}
	if got := formatTokens(nil); got != "" {
		t.Fatalf("formatTokens(nil) = %q", got)
	}
}
