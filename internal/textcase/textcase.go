// Package textcase converts identifiers between naming conventions. It backs
// the computed project-name variables and the case helpers available inside
// templates.
package textcase

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Casers are stateful, so each conversion gets its own.
func title(s string) string { return cases.Title(language.Und).String(s) }
func upper(s string) string { return cases.Upper(language.Und).String(s) }
func lower(s string) string { return cases.Lower(language.Und).String(s) }

// Words splits s into lower-cased words on separators and camel-case humps.
// "myHTTPServer-v2" becomes ["my", "http", "server", "v2"].
func Words(s string) []string {
	var words []string
	var current []rune

	flush := func() {
		if len(current) > 0 {
			words = append(words, lower(string(current)))
			current = current[:0]
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r):
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			prevUpper := i > 0 && unicode.IsUpper(runes[i-1])
			if prevLower || (prevUpper && nextLower) {
				flush()
			}
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()

	return words
}

// Kebab returns "my-project".
func Kebab(s string) string {
	return strings.Join(Words(s), "-")
}

// Snake returns "my_project".
func Snake(s string) string {
	return strings.Join(Words(s), "_")
}

// Pascal returns "MyProject".
func Pascal(s string) string {
	words := Words(s)
	for i, w := range words {
		words[i] = title(w)
	}
	return strings.Join(words, "")
}

// Camel returns "myProject".
func Camel(s string) string {
	words := Words(s)
	for i, w := range words {
		if i > 0 {
			words[i] = title(w)
		}
	}
	return strings.Join(words, "")
}

// Title returns "My Project".
func Title(s string) string {
	words := Words(s)
	for i, w := range words {
		words[i] = title(w)
	}
	return strings.Join(words, " ")
}

// Upper upper-cases s using Unicode rules.
func Upper(s string) string {
	return upper(s)
}

// Lower lower-cases s using Unicode rules.
func Lower(s string) string {
	return lower(s)
}

// Constant returns "MY_PROJECT".
func Constant(s string) string {
	return upper(Snake(s))
}
