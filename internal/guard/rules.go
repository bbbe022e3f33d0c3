package guard

import (
	"fmt"
	"strings"
)

type statement struct {
	text   string
	tokens []token
}

var statementClasses = map[string]string{
	"INSERT": "data mutation", "UPDATE": "data mutation", "DELETE": "data mutation",
	"MERGE": "data mutation", "UPSERT": "data mutation", "REPLACE": "data mutation",
	"COPY": "data mutation", "LOAD": "data mutation",

	"CREATE": "schema mutation", "ALTER": "schema mutation", "DROP": "schema mutation",
	"TRUNCATE": "schema mutation", "RENAME": "schema mutation", "COMMENT": "schema mutation",
	"GRANT": "schema mutation", "REVOKE": "schema mutation", "ATTACH": "schema mutation",
	"DETACH": "schema mutation", "INSTALL": "schema mutation", "VACUUM": "schema mutation",

	"SET": "session control", "RESET": "session control", "BEGIN": "session control",
	"START": "session control", "COMMIT": "session control", "ROLLBACK": "session control",
	"SAVEPOINT": "session control", "USE": "session control", "PRAGMA": "session control",
	"CALL": "session control", "EXEC": "session control", "EXECUTE": "session control",
	"LOCK": "session control", "CHECKPOINT": "session control", "EXPLAIN": "session control",
}

// embeddedMutations may not appear anywhere in a read-only statement. This
// catches data-modifying CTEs and SELECT ... INTO.
var embeddedMutations = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {}, "DROP": {}, "CREATE": {},
	"ALTER": {}, "TRUNCATE": {}, "INTO": {}, "GRANT": {}, "REVOKE": {}, "ATTACH": {}, "COPY": {},
}

// checkSyntax lexes sql and isolates its single statement. A trailing
// separator is dropped.
func checkSyntax(sql string, opts lexOptions) (statement, Verdict, bool) {
	tokens, err := lex(sql, opts)
	if err != nil {
		return statement{}, reject(StatusRejectedInvalid, Received, RuleUnterminated, "statement has an "+err.Error(), sql), false
	}

	var groups [][]token
	var current []token
	for _, tok := range tokens {
		if tok.kind == tokenSeparator {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	switch len(groups) {
	case 0:
		return statement{}, reject(StatusRejectedInvalid, Received, RuleEmpty, "statement is empty", sql), false
	case 1:
	default:
		return statement{}, reject(StatusRejectedUnsafe, Received, RuleStacked,
			fmt.Sprintf("found %d statements; exactly one is allowed", len(groups)), sql), false
	}

	group := groups[0]
	text := sql[group[0].start:group[len(group)-1].end]
	return statement{text: text, tokens: group}, Verdict{}, true
}

func checkReadOnly(stmt statement) (Verdict, bool) {
	leading := ""
	for _, tok := range stmt.tokens {
		if tok.kind == tokenSymbol && tok.text == "(" {
			continue
		}
		if tok.kind == tokenWord {
			leading = strings.ToUpper(tok.text)
		}
		break
	}

	switch leading {
	case "SELECT", "WITH":
	case "":
		return reject(StatusRejectedUnsafe, SyntaxChecked, RuleNotReadOnly,
			"statement does not start with a keyword; only SELECT and WITH queries are allowed", stmt.text), false
	default:
		reason := fmt.Sprintf("statement starts with %s; only SELECT and WITH queries are allowed", leading)
		if class, ok := statementClasses[leading]; ok {
			reason = fmt.Sprintf("statement starts with %s (%s); only SELECT and WITH queries are allowed", leading, class)
		}
		return reject(StatusRejectedUnsafe, SyntaxChecked, RuleNotReadOnly, reason, stmt.text), false
	}

	for _, tok := range stmt.tokens {
		if tok.kind != tokenWord {
			continue
		}
		word := strings.ToUpper(tok.text)
		if _, ok := embeddedMutations[word]; ok {
			return reject(StatusRejectedUnsafe, SyntaxChecked, RuleEmbeddedMutation,
				fmt.Sprintf("statement contains %s, which is not allowed in a read-only query", word), stmt.text), false
		}
	}
	return Verdict{}, true
}
