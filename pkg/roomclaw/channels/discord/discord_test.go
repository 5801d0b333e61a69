package discord

import (
	"strings"
	"testing"
)

func TestSplitMessage(t *testing.T) {
	t.Run("short text stays whole", func(t *testing.T) {
		chunks := splitMessage("hello", 2000)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("splits at line boundaries", func(t *testing.T) {
		text := strings.Repeat("0123456789\n", 30)
		chunks := splitMessage(text, 100)
		for i, c := range chunks {
			if len(c) > 100 {
				t.Errorf("chunk %d has %d chars", i, len(c))
			}
		}
		joined := strings.Join(chunks, "\n") + "\n"
		if joined != text {
			t.Error("content lost in split")
		}
	})

	t.Run("hard split without newlines", func(t *testing.T) {
		text := strings.Repeat("x", 250)
		chunks := splitMessage(text, 100)
		if len(chunks) != 3 {
			t.Fatalf("chunks = %d, want 3", len(chunks))
		}
		if total := len(chunks[0]) + len(chunks[1]) + len(chunks[2]); total != 250 {
			t.Errorf("total = %d, want 250", total)
		}
	})
}
