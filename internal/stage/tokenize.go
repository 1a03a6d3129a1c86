package stage

import (
	"strings"
	"unicode"
)

var quoteReplacer = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// Tokenize lowercases text and splits it into word tokens. Latin-script words
// are split on anything that is not a letter, digit or apostrophe. Han
// characters carry no word boundaries, so each one is its own token; multi
// character Chinese keywords then match as token sequences.
func Tokenize(text string) []string {
	text = quoteReplacer.Replace(strings.ToLower(text))

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.Trim(cur.String(), "'")
		cur.Reset()
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
