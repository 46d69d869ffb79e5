package agent

import "testing"

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "It's sunny.", "It's sunny."},
		{"empty", "", ""},
		{"think block", "<think>user wants weather</think>\nIt's sunny.", "It's sunny."},
		{"thinking mixed case", "<Thinking>hmm</Thinking>Done", "Done"},
		{"only thinking", "<thought>nothing to say</thought>", ""},
		{"duplicate paragraphs", "Hello there.\n\nHello there.\n\nBye.", "Hello there.\n\nBye."},
		{"leading blank lines", "\n  \n  indented", "  indented"},
		{"keeps markup", "use <b>bold</b>", "use <b>bold</b>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeReply(tt.in); got != tt.want {
				t.Errorf("SanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
