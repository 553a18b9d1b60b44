package calendar

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"spanish months with time", "15/ene/2024 - 2:30 pm", "2024-01-15T14:30:00Z", true},
		{"morning time", "3/dic/2023 - 9:00 am", "2023-12-03T09:00:00Z", true},
		{"date only", "20/ago/2024", "2024-08-20T00:00:00Z", true},
		{"quoted block with noise", `Fecha: "15/ene/2024 - 2:30 pm" (hora local)`, "2024-01-15T14:30:00Z", true},
		{"first parseable wins", "15/ene/2024 - 2:30 pm o 16/ene/2024 - 3:00 pm", "2024-01-15T14:30:00Z", true},
		{"uppercase month", "15/ENE/2024 - 2:30 PM", "2024-01-15T14:30:00Z", true},
		{"iso datetime passthrough", "2024-01-15 14:30:00", "2024-01-15T14:30:00Z", true},
		{"iso date passthrough", "2024-01-15", "2024-01-15T00:00:00Z", true},
		{"empty", "", "", false},
		{"whitespace only", "   \n ", "", false},
		{"prose without dates", "por definir", "", false},
		{"nonsense month", "15/xyz/2024", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.in)
			if ok != tc.ok {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			}
			if !ok {
				return
			}
			want, err := time.Parse(time.RFC3339, tc.want)
			if err != nil {
				t.Fatalf("bad want %q: %v", tc.want, err)
			}
			if !got.Equal(want) {
				t.Errorf("Normalize(%q) = %v, want %v", tc.in, got, want)
			}
		})
	}
}
