package security

import (
	"strings"

	"github.com/kyleking/insight-query/internal/errors"
)

// TableRef is a table referenced after FROM or JOIN
type TableRef struct {
	Schema string
	Name   string
}

// clauseKeywords end a FROM list and can never be a table alias
var clauseKeywords = map[string]bool{
	"where": true, "group": true, "order": true, "limit": true, "having": true,
	"join": true, "inner": true, "left": true, "right": true, "full": true,
	"cross": true, "outer": true, "on": true, "using": true, "natural": true,
	"union": true, "except": true, "intersect": true, "offset": true,
	"qualify": true, "window": true, "as": true,
}

// callableFunctions are the only function names a generated query may call
var callableFunctions = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}

// parenKeywords may be followed by "(" without being a function call
var parenKeywords = map[string]bool{
	"select": true, "from": true, "join": true, "where": true, "having": true,
	"in": true, "exists": true, "on": true, "using": true, "and": true, "or": true,
	"not": true, "as": true, "by": true, "when": true, "then": true, "else": true,
}

func notSelect(message string) error {
	return errors.New(errors.ErrTypePostValidation, message).
		WithReason(errors.ReasonNotASelectStatement)
}

// ValidateGeneratedQuery checks that query is exactly one read-only SELECT and
// that every table it reads resolves to a schema in allowedSchemas. Unqualified
// tables resolve to defaultSchema.
func ValidateGeneratedQuery(query string, allowedSchemas []string, defaultSchema string) error {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return notSelect("query is empty")
	}

	for i, tok := range tokens {
		switch {
		case tok.Type == TokenIllegal:
			return notSelect("query contains an unterminated literal or control character")
		case tok.Type == TokenComment:
			return notSelect("query contains a comment")
		case tok.Type == TokenSemicolon && i != len(tokens)-1:
			return notSelect("query contains more than one statement")
		case tok.Type == TokenIdent && isMutatingKeyword(tok.Literal):
			return notSelect("query contains mutating keyword " + strings.ToUpper(tok.Literal))
		case tok.Is("into"):
			return notSelect("query contains INTO")
		case isNameToken(tok) && i+1 < len(tokens) && tokens[i+1].Type == TokenLParen && !callable(tok):
			return notSelect("query calls function " + tok.Literal)
		}
	}

	if !tokens[0].Is("select") {
		return notSelect("query is not a SELECT statement")
	}

	refs, err := ExtractTables(tokens)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		schemaName := ref.Schema
		if schemaName == "" {
			schemaName = defaultSchema
		}

		if !containsFold(allowedSchemas, schemaName) {
			qualified := ref.Name
			if schemaName != "" {
				qualified = schemaName + "." + ref.Name
			}

			return errors.Newf(errors.ErrTypePostValidation, "table %s is outside the allowed schemas", qualified).
				WithReason(errors.ReasonDisallowedSchema).
				WithIdentifier(qualified)
		}
	}

	return nil
}

// ExtractTables returns the tables named after FROM and JOIN, in order of appearance
func ExtractTables(tokens []Token) ([]TableRef, error) {
	var refs []TableRef

	for i := 0; i < len(tokens); i++ {
		if !tokens[i].Is("from") && !tokens[i].Is("join") {
			continue
		}

		isFrom := tokens[i].Is("from")
		i++

		for {
			ref, next, err := parseTableRef(tokens, i)
			if err != nil {
				return nil, err
			}

			if ref != nil {
				refs = append(refs, *ref)
			}

			i = skipAlias(tokens, next)

			if !isFrom || i >= len(tokens) || tokens[i].Type != TokenComma {
				break
			}

			i++
		}

		i--
	}

	return refs, nil
}

// parseTableRef reads [schema.]table at i. A parenthesized subquery yields no
// ref; its own FROM clauses are visited by the caller's scan. Names with more
// than two parts and table functions are rejected.
func parseTableRef(tokens []Token, i int) (*TableRef, int, error) {
	if i >= len(tokens) {
		return nil, i, notSelect("FROM or JOIN is missing a table")
	}

	if tokens[i].Type == TokenLParen {
		return nil, i, nil
	}

	if !isNameToken(tokens[i]) {
		return nil, i, notSelect("FROM or JOIN is followed by " + tokens[i].Literal)
	}

	parts := []string{strings.ToLower(tokens[i].Literal)}
	i++

	for i+1 < len(tokens) && tokens[i].Type == TokenDot && isNameToken(tokens[i+1]) {
		parts = append(parts, strings.ToLower(tokens[i+1].Literal))
		i += 2
	}

	name := strings.Join(parts, ".")

	if i < len(tokens) && tokens[i].Type == TokenLParen {
		return nil, i, notSelect("FROM or JOIN reads from table function " + name)
	}

	switch len(parts) {
	case 1:
		return &TableRef{Name: parts[0]}, i, nil
	case 2:
		return &TableRef{Schema: parts[0], Name: parts[1]}, i, nil
	default:
		// catalog-qualified names would bypass the schema check
		return nil, i, errors.Newf(errors.ErrTypePostValidation, "table %s has more than two name parts", name).
			WithReason(errors.ReasonDisallowedSchema).
			WithIdentifier(name)
	}
}

func skipAlias(tokens []Token, i int) int {
	if i < len(tokens) && tokens[i].Is("as") {
		i++
	}

	if i < len(tokens) && isNameToken(tokens[i]) && !clauseKeywords[strings.ToLower(tokens[i].Literal)] {
		i++
	}

	return i
}

// callable reports whether a name token may be followed by "(". Quoted names
// never may.
func callable(t Token) bool {
	if t.Type != TokenIdent {
		return false
	}

	word := strings.ToLower(t.Literal)

	return callableFunctions[word] || parenKeywords[word]
}

func isNameToken(t Token) bool {
	return t.Type == TokenIdent || t.Type == TokenQuotedIdent
}
