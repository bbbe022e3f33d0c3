package guard

import (
	"errors"
	"strings"
	"testing"

	"github.com/askql/askql/internal/database"
)

func TestLexSkipsCommentsAndKeepsQuotedText(t *testing.T) {
	tokens, err := lex("SELECT /* DROP */ 'a;b' AS \"x;y\" -- DELETE\nFROM t;", lexOptions{})
	if err != nil {
		t.Fatalf("lex() error = %v", err)
	}
	var kinds []tokenKind
	var texts []string
	for _, tok := range tokens {
		kinds = append(kinds, tok.kind)
		texts = append(texts, tok.text)
	}
	wantTexts := []string{"SELECT", "'a;b'", "AS", "\"x;y\"", "FROM", "t", ";"}
	if len(texts) != len(wantTexts) {
		t.Fatalf("tokens = %q, want %q", texts, wantTexts)
	}
	for i := range wantTexts {
		if texts[i] != wantTexts[i] {
			t.Fatalf("token %d = %q, want %q", i, texts[i], wantTexts[i])
		}
	}
	if kinds[1] != tokenString || kinds[3] != tokenQuotedIdent || kinds[6] != tokenSeparator {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestLexHandlesEscapesAndDollarQuotes(t *testing.T) {
	tokens, err := lex("SELECT 'it''s', $tag$ ; DROP $tag$, $1, `back;tick`", lexOptions{})
	if err != nil {
		t.Fatalf("lex() error = %v", err)
	}
	for _, tok := range tokens {
		if tok.kind == tokenSeparator {
			t.Fatalf("separator inside quoted text: %+v", tokens)
		}
		if tok.kind == tokenWord && tok.text == "DROP" {
			t.Fatalf("dollar-quoted body was lexed as words: %+v", tokens)
		}
	}
}

func TestLexReportsUnterminatedTokens(t *testing.T) {
	for _, input := range []string{"SELECT 'abc", "SELECT \"abc", "SELECT 1 /* open", "SELECT $q$ body"} {
		if _, err := lex(input, lexOptions{}); !errors.Is(err, errUnterminated) {
			t.Fatalf("lex(%q) error = %v, want errUnterminated", input, err)
		}
	}
}

func TestLexBackslashEscapesOnMySQL(t *testing.T) {
	input := `SELECT '\''; DELETE FROM orders -- '`

	ansi, err := lex(input, lexOptions{})
	if err != nil {
		t.Fatalf("lex() error = %v", err)
	}
	if len(ansi) != 2 || ansi[1].kind != tokenString {
		t.Fatalf("ansi tokens = %+v", ansi)
	}

	mysql, err := lex(input, lexOptionsFor(database.MySQL))
	if err != nil {
		t.Fatalf("lex(mysql) error = %v", err)
	}
	var words []string
	for _, tok := range mysql {
		if tok.kind == tokenWord {
			words = append(words, tok.text)
		}
	}
	if strings.Join(words, " ") != "SELECT DELETE FROM orders" {
		t.Fatalf("mysql words = %v", words)
	}

	if _, err := lex(`SELECT "a\"`, lexOptionsFor(database.MySQL)); !errors.Is(err, errUnterminated) {
		t.Fatalf("lex(escaped closing quote) error = %v, want errUnterminated", err)
	}
	if _, err := lex("SELECT `a\\`", lexOptionsFor(database.MySQL)); err != nil {
		t.Fatalf("backtick identifiers take no escapes, error = %v", err)
	}
}
