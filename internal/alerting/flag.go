package alerting

// regionalIndicatorA is U+1F1E6, REGIONAL INDICATOR SYMBOL LETTER A.
const regionalIndicatorA = 0x1F1E6

// CountryFlag renders a two-letter country code as its pair of regional
// indicator symbols. Anything other than exactly two ASCII letters renders
// as the empty string.
func CountryFlag(code string) string {
	if len(code) != 2 {
		return ""
	}
	out := make([]rune, 0, 2)
	for i := 0; i < 2; i++ {
		c := code[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return ""
		}
		out = append(out, rune(regionalIndicatorA+int(c-'A')))
	}
	return string(out)
}
