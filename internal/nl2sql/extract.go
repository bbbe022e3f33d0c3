package nl2sql

import (
	"strings"
	"unicode"
)

// statementKeywords start a statement. Mutating keywords are included so
// that such output reaches the validator and is rejected there with a
// reason, instead of being reported as "no candidate".
var statementKeywords = map[string]struct{}{
	"SELECT": {}, "WITH": {},
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {},
	"CREATE": {}, "ALTER": {}, "DROP": {}, "TRUNCATE": {},
	"GRANT": {}, "REVOKE": {}, "COPY": {}, "ATTACH": {}, "EXPLAIN": {}, "PRAGMA": {},
}

// continuationKeywords may open a later paragraph of the same statement.
var continuationKeywords = map[string]struct{}{
	"FROM": {}, "WHERE": {}, "JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {},
	"CROSS": {}, "OUTER": {}, "ON": {}, "AND": {}, "OR": {}, "GROUP": {}, "ORDER": {},
	"HAVING": {}, "LIMIT": {}, "OFFSET": {}, "FETCH": {}, "UNION": {}, "INTERSECT": {},
	"EXCEPT": {}, "WINDOW": {}, "QUALIFY": {}, "AS": {}, "CASE": {}, "WHEN": {}, "THEN": {},
	"ELSE": {}, "END": {},
}

// ExtractStatement pulls the SQL statement out of raw model output.
//
// The first fenced code block wins. Without a fence, the statement starts
// at the first line that begins with a statement keyword and runs until a
// blank-line separated paragraph that does not look like SQL. A leading
// "SQL:" label and trailing semicolons are removed.
func ExtractStatement(raw string) (string, bool) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	if block, ok := firstFencedBlock(text); ok {
		statement := cleanStatement(block)
		return statement, statement != ""
	}

	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		candidate := stripLabel(line)
		keyword := leadingWord(candidate)
		if keyword == "WITH" && !looksLikeCTE(strings.Join(append([]string{candidate}, lines[i+1:]...), "\n")) {
			continue
		}
		if isStatementKeyword(keyword) || strings.HasPrefix(strings.TrimSpace(candidate), "(") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	lines[start] = stripLabel(lines[start])

	paragraphs := splitParagraphs(lines[start:])
	kept := []string{paragraphs[0]}
	for _, paragraph := range paragraphs[1:] {
		word := leadingWord(paragraph)
		_, continuation := continuationKeywords[word]
		if !continuation && !isStatementKeyword(word) && !strings.HasPrefix(strings.TrimSpace(paragraph), ")") {
			break
		}
		kept = append(kept, paragraph)
	}

	statement := cleanStatement(strings.Join(kept, "\n"))
	return statement, statement != ""
}

func firstFencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	// The rest of the opening line is the language tag.
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		tag := strings.TrimSpace(rest[:newline])
		if tag == "" || isLanguageTag(tag) {
			return closeFence(rest[newline+1:]), true
		}
	}
	return closeFence(stripInlineTag(rest)), true
}

func closeFence(block string) string {
	if end := strings.Index(block, "```"); end >= 0 {
		return block[:end]
	}
	return block
}

// stripInlineTag drops a language tag that shares its line with the
// statement, as in "```sql SELECT 1```".
func stripInlineTag(rest string) string {
	trimmed := strings.TrimLeft(rest, " \t")
	end := strings.IndexFunc(trimmed, unicode.IsSpace)
	if end <= 0 {
		return rest
	}
	tag, after := trimmed[:end], strings.TrimSpace(trimmed[end:])
	if !isLanguageTag(tag) {
		return rest
	}
	if isStatementKeyword(leadingWord(after)) || strings.HasPrefix(after, "(") {
		return after
	}
	return rest
}

// looksLikeCTE reports whether text opens with WITH [RECURSIVE] name
// [(columns)] AS, telling a common table expression from prose.
func looksLikeCTE(text string) bool {
	rest := strings.TrimSpace(text)
	word, rest := nextWord(rest)
	if word != "WITH" {
		return false
	}
	if peek, after := nextWord(rest); peek == "RECURSIVE" {
		rest = after
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return false
	}
	switch rest[0] {
	case '"', '`', '[':
		closing := map[byte]byte{'"': '"', '`': '`', '[': ']'}[rest[0]]
		end := strings.IndexByte(rest[1:], closing)
		if end < 0 {
			return false
		}
		rest = rest[end+2:]
	default:
		name, after := nextWord(rest)
		if name == "" {
			return false
		}
		rest = after
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return false
		}
		rest = rest[end+1:]
	}
	word, _ = nextWord(rest)
	return word == "AS"
}

// nextWord splits off a leading identifier, upper-cased.
func nextWord(text string) (string, string) {
	text = strings.TrimSpace(text)
	end := strings.IndexFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$'
	})
	if end < 0 {
		end = len(text)
	}
	return strings.ToUpper(text[:end]), text[end:]
}

func isLanguageTag(tag string) bool {
	for _, r := range tag {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return !isStatementKeyword(strings.ToUpper(tag))
}

func splitParagraphs(lines []string) []string {
	var (
		paragraphs []string
		current    []string
	)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
	}
	return paragraphs
}

func cleanStatement(value string) string {
	value = strings.TrimSpace(stripLabel(strings.TrimSpace(value)))
	for strings.HasSuffix(value, ";") {
		value = strings.TrimSpace(strings.TrimSuffix(value, ";"))
	}
	return value
}

func stripLabel(line string) string {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) >= 4 && strings.EqualFold(trimmed[:4], "SQL:") {
		return strings.TrimSpace(trimmed[4:])
	}
	return line
}

func leadingWord(text string) string {
	text = strings.TrimSpace(text)
	end := strings.IndexFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end < 0 {
		end = len(text)
	}
	return strings.ToUpper(text[:end])
}

func isStatementKeyword(word string) bool {
	_, ok := statementKeywords[word]
	return ok
}
