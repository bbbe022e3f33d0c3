package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/askql/askql/internal/database"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenString
	tokenQuotedIdent
	tokenNumber
	tokenSymbol
	tokenSeparator
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

var errUnterminated = errors.New("unterminated")

// lexOptions carries the dialect quirks the lexer needs.
type lexOptions struct {
	// backslashEscapes makes \ escape the next byte inside single- and
	// double-quoted text, as MySQL does by default.
	backslashEscapes bool
}

func lexOptionsFor(dialect database.Dialect) lexOptions {
	return lexOptions{backslashEscapes: dialect == database.MySQL}
}

// lex splits a statement into tokens, dropping comments. It understands
// single-quoted strings with doubled-quote escapes, double-quoted and backtick
// identifiers, -- and /* */ comments, and $tag$ dollar quoting.
func lex(input string, opts lexOptions) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++
		case c == '-' && i+1 < len(input) && input[i+1] == '-':
			end := strings.IndexByte(input[i:], '\n')
			if end < 0 {
				i = len(input)
			} else {
				i += end + 1
			}
		case c == '/' && i+1 < len(input) && input[i+1] == '*':
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%w block comment starting at offset %d", errUnterminated, i)
			}
			i += end + 4
		case c == '\'':
			end, err := scanQuoted(input, i, '\'', opts.backslashEscapes)
			if err != nil {
				return nil, fmt.Errorf("%w string literal starting at offset %d", errUnterminated, i)
			}
			tokens = append(tokens, token{kind: tokenString, text: input[i:end], start: i, end: end})
			i = end
		case c == '"' || c == '`':
			end, err := scanQuoted(input, i, c, opts.backslashEscapes && c == '"')
			if err != nil {
				return nil, fmt.Errorf("%w quoted identifier starting at offset %d", errUnterminated, i)
			}
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: input[i:end], start: i, end: end})
			i = end
		case c == '$':
			if tag, ok := dollarTag(input, i); ok {
				closing := strings.Index(input[i+len(tag):], tag)
				if closing < 0 {
					return nil, fmt.Errorf("%w dollar-quoted string starting at offset %d", errUnterminated, i)
				}
				end := i + len(tag) + closing + len(tag)
				tokens = append(tokens, token{kind: tokenString, text: input[i:end], start: i, end: end})
				i = end
				continue
			}
			end := i + 1
			for end < len(input) && isDigit(input[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokenSymbol, text: input[i:end], start: i, end: end})
			i = end
		case c == ';':
			tokens = append(tokens, token{kind: tokenSeparator, text: ";", start: i, end: i + 1})
			i++
		case isDigit(c):
			end := i
			for end < len(input) && (isDigit(input[end]) || input[end] == '.') {
				end++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: input[i:end], start: i, end: end})
			i = end
		case isWordStart(input, i):
			end := i
			for end < len(input) && isWordPart(input, end) {
				end += runeWidth(input, end)
			}
			tokens = append(tokens, token{kind: tokenWord, text: input[i:end], start: i, end: end})
			i = end
		default:
			width := runeWidth(input, i)
			tokens = append(tokens, token{kind: tokenSymbol, text: input[i : i+width], start: i, end: i + width})
			i += width
		}
	}
	return tokens, nil
}

// scanQuoted returns the offset just past the closing quote. A doubled
// quote character is an escaped quote, and so is a backslash-escaped one
// when backslash is set.
func scanQuoted(input string, start int, quote byte, backslash bool) (int, error) {
	i := start + 1
	for i < len(input) {
		if backslash && input[i] == '\\' {
			i += 2
			continue
		}
		if input[i] == quote {
			if i+1 < len(input) && input[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, errUnterminated
}

// dollarTag recognises $$ and $name$ openers.
func dollarTag(input string, start int) (string, bool) {
	i := start + 1
	for i < len(input) {
		c := input[i]
		if c == '$' {
			return input[start : i+1], true
		}
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > start+1 && isDigit(c))) {
			return "", false
		}
		i++
	}
	return "", false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(input string, i int) bool {
	c := input[i]
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	if c < utf8.RuneSelf {
		return false
	}
	r, _ := utf8.DecodeRuneInString(input[i:])
	return unicode.IsLetter(r)
}

func isWordPart(input string, i int) bool {
	c := input[i]
	return isWordStart(input, i) || isDigit(c) || c == '$'
}

func runeWidth(input string, i int) int {
	_, width := utf8.DecodeRuneInString(input[i:])
	if width < 1 {
		return 1
	}
	return width
}
