package device

import "testing"

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BOTHERED / UNBOTHERED", "BOTHERED ⧸ UNBOTHERED"},
		{"Transistor: Original Soundtrack", "Transistor꞉ Original Soundtrack"},
		{`"Emerson" Unreleased Demo`, "″Emerson″ Unreleased Demo"},
		{"LOVE /// DISCONNECT", "LOVE ⧸⧸⧸ DISCONNECT"},
		{"What? No. <Really>|Yes*", "What？ No. ‹Really›｜Yes⁎"},
		{"Normal Album Name", "Normal Album Name"},
		{"  Album Name  ", "Album Name"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
