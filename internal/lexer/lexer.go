// Package lexer splits C-like instruction bodies into tokens.
//
// Only the distinctions needed by flag detection are kept: identifiers,
// preprocessor directives, literals and punctuation. Comments and
// whitespace are dropped.
package lexer

import (
	"unicode"
)

type Type int

const (
	Ident Type = iota
	Macro
	Number
	String
	Char
	Punct
)

func (t Type) String() string {
	switch t {
	case Ident:
		return "identifier"
	case Macro:
		return "macro"
	case Number:
		return "number"
	case String:
		return "string"
	case Char:
		return "char"
	case Punct:
		return "punctuation"
	}
	return "unknown"
}

type Token struct {
	Value string
	Type  Type
	Line  int
}

// Tokenize scans input starting at firstLine.
// Macro tokens hold the directive with inner whitespace removed, e.g. "#if".
func Tokenize(input string, firstLine int) []Token {
	var tokens []Token
	line := firstLine
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			line++
			continue
		}
		if unicode.IsSpace(r) {
			continue
		}

		// Line comment
		if r == '/' && i+1 < len(runes) && runes[i+1] == '/' {
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}
			continue
		}

		// Block comment
		if r == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				if runes[i] == '\n' {
					line++
				}
				i++
			}
			i++
			continue
		}

		// Preprocessor directive
		if r == '#' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
				j++
			}
			start := j
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{"#" + string(runes[start:j]), Macro, line})
			i = j - 1
			continue
		}

		// String or character literal
		if r == '"' || r == '\'' {
			quote := r
			start := i + 1
			i++
			for i < len(runes) && runes[i] != quote && runes[i] != '\n' {
				if runes[i] == '\\' {
					i++
				}
				i++
			}
			end := min(i, len(runes))
			typ := String
			if quote == '\'' {
				typ = Char
			}
			tokens = append(tokens, Token{string(runes[start:end]), typ, line})
			continue
		}

		// Number, including hex and suffixes like 1u or 0x10UL
		if unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])) {
			start := i
			for i < len(runes) && (isIdentRune(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, Token{string(runes[start:i]), Number, line})
			i--
			continue
		}

		if isIdentRune(r) {
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			tokens = append(tokens, Token{string(runes[start:i]), Ident, line})
			i--
			continue
		}

		tokens = append(tokens, Token{string(r), Punct, line})
	}

	return tokens
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
