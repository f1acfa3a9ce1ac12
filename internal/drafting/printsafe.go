package drafting

import "strings"

var printReplacer = strings.NewReplacer(
	"₹", "Rs. ",
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"–", "-", "—", "-",
	"…", "...",
	"•", "*",
)

// PrintSafe maps typographic characters to ASCII and drops anything outside
// Latin-1, which standard PDF fonts cannot show.
func PrintSafe(text string) string {
	text = printReplacer.Replace(text)
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return -1
		}
		return r
	}, text)
}
