package agent

import "testing"

func TestHasSentinel(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"What is your name? #INT#", true},
		{"lowercase #int# still counts", true},
		{"Mixed #Int# case", true},
		{"no sentinel here", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := HasSentinel(tc.text); got != tc.want {
			t.Errorf("HasSentinel(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestStripSentinel(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"What is your name? #INT#", "What is your name?"},
		{"#int# leading", "leading"},
		{"a #INT# b #int# c", "a  b  c"},
		{"untouched", "untouched"},
	}
	for _, tc := range cases {
		if got := StripSentinel(tc.text); got != tc.want {
			t.Errorf("StripSentinel(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestEndsWithQuestion(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"How many?", true},
		{"How many?   ", true},
		{"How many?\n", true},
		{"Done.", false},
		{"Question? No.", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := EndsWithQuestion(tc.text); got != tc.want {
			t.Errorf("EndsWithQuestion(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestIsCompleted(t *testing.T) {
	validQR := `[{"id":"1","label":"Yes","value":"yes"}]`
	validCard := `{"title":"Order","components":[{"type":"text_block","text":"hi"}]}`

	cases := []struct {
		name     string
		text     string
		qr, card string
		want     bool
	}{
		{"plain statement", "All booked.", "", "", true},
		{"sentinel present", "Need more info #INT#", "", "", false},
		{"sentinel lowercase", "Need more info #int#", "", "", false},
		{"trailing question", "Which date works for you?", "", "", false},
		{"quick replies staged", "Pick one.", validQR, "", false},
		{"rich card staged", "Here is your order.", "", validCard, false},
		{"malformed quick replies ignored", "Done.", "not json", "", true},
		{"malformed card ignored", "Done.", "", "{broken", true},
		{"empty artifacts", "Done.", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCompleted(tc.text, tc.qr, tc.card); got != tc.want {
				t.Errorf("IsCompleted = %v, want %v", got, tc.want)
			}
		})
	}
}
