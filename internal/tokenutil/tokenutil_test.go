package tokenutil

import (
	"strings"
	"testing"
)

func TestCount(t *testing.T) {
	if Count("") != 0 {
		t.Error("empty text should have zero tokens")
	}
	if n := Count("func main() { fmt.Println(\"hi\") }"); n <= 0 {
		t.Errorf("expected positive count, got %d", n)
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"a", 1},
		{"one two three", 3},
		{strings.Repeat("x", 40), 10},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	text := strings.Repeat("token ", 500)

	out := Truncate(text, 20, "...[cut]")
	if !strings.HasSuffix(out, "...[cut]") {
		t.Errorf("expected marker suffix, got %q", out[len(out)-20:])
	}
	if len(out) >= len(text) {
		t.Error("expected shorter output")
	}

	if Truncate("short", 20, "...") != "short" {
		t.Error("short text should be unchanged")
	}
	if Truncate(text, 0, "...") != text {
		t.Error("zero budget disables truncation")
	}
}
