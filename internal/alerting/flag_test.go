package alerting

import "testing"

func TestCountryFlag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "US", want: "\U0001F1FA\U0001F1F8"},
		{in: "fr", want: "\U0001F1EB\U0001F1F7"},
		{in: "", want: ""},
		{in: "U", want: ""},
		{in: "USA", want: ""},
		{in: "U1", want: ""},
		{in: "É", want: ""},
	}
	for _, tc := range cases {
		if got := CountryFlag(tc.in); got != tc.want {
			t.Errorf("CountryFlag(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCountryFlagIsTwoCodepoints(t *testing.T) {
	t.Parallel()

	if got := len([]rune(CountryFlag("US"))); got != 2 {
		t.Fatalf("rune count = %d, want 2", got)
	}
	if CountryFlag("DE") == CountryFlag("ED") {
		t.Fatal("expected distinct flags for distinct codes")
	}
}
