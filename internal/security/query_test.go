package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/insight-query/internal/errors"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize(`SELECT "Odd ""Name""", 'it''s', 3.5e2 FROM main.sales;`)

	types := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		types[i] = tok.Type
	}

	assert.Equal(t, []TokenType{
		TokenIdent, TokenQuotedIdent, TokenComma, TokenString, TokenComma, TokenNumber,
		TokenIdent, TokenIdent, TokenDot, TokenIdent, TokenSemicolon,
	}, types)
	assert.Equal(t, `Odd "Name"`, tokens[1].Literal)
	assert.Equal(t, "it's", tokens[3].Literal)
	assert.Equal(t, "3.5e2", tokens[5].Literal)
}

func TestTokenizeCommentsAndIllegal(t *testing.T) {
	tokens := Tokenize("SELECT 1 -- trailing")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenComment, tokens[2].Type)

	tokens = Tokenize("SELECT /* x */ 1")
	assert.Equal(t, TokenComment, tokens[1].Type)

	tokens = Tokenize("SELECT 'open")
	assert.Equal(t, TokenIllegal, tokens[len(tokens)-1].Type)

	tokens = Tokenize("SELECT \x01")
	assert.Equal(t, TokenIllegal, tokens[len(tokens)-1].Type)
}

func TestValidateGeneratedQuery(t *testing.T) {
	allowed := []string{"default", "analytics"}

	tests := []struct {
		name       string
		query      string
		wantReason errors.Reason
		wantIdent  string
	}{
		{"simple", "SELECT region, SUM(amount) as total FROM sales GROUP BY region", errors.ReasonNone, ""},
		{"trailing semicolon", "SELECT region FROM sales;", errors.ReasonNone, ""},
		{"qualified allowed", "SELECT id FROM analytics.events WHERE kind = 'drop'", errors.ReasonNone, ""},
		{"keyword inside literal", "SELECT id FROM sales WHERE note = 'DELETE; -- INTO'", errors.ReasonNone, ""},
		{"join allowed", "SELECT s.id FROM sales s JOIN analytics.events e ON s.id = e.id", errors.ReasonNone, ""},
		{"comma list", "SELECT 1 FROM sales AS s, finance.ledger", errors.ReasonDisallowedSchema, "finance.ledger"},
		{"subquery", "SELECT x FROM (SELECT id AS x FROM secret.keys) t", errors.ReasonDisallowedSchema, "secret.keys"},
		{"disallowed schema", "SELECT id FROM finance.ledger", errors.ReasonDisallowedSchema, "finance.ledger"},
		{"disallowed join", "SELECT id FROM sales JOIN hr.salaries ON 1 = 1", errors.ReasonDisallowedSchema, "hr.salaries"},
		{"empty", "   ", errors.ReasonNotASelectStatement, ""},
		{"not select", "WITH x AS (SELECT 1) SELECT * FROM x", errors.ReasonNotASelectStatement, ""},
		{"delete", "DELETE FROM sales", errors.ReasonNotASelectStatement, ""},
		{"two statements", "SELECT 1 FROM sales; SELECT 2 FROM sales", errors.ReasonNotASelectStatement, ""},
		{"double semicolon", "SELECT 1 FROM sales;;", errors.ReasonNotASelectStatement, ""},
		{"line comment", "SELECT 1 FROM sales -- hi", errors.ReasonNotASelectStatement, ""},
		{"block comment", "SELECT /**/ 1 FROM sales", errors.ReasonNotASelectStatement, ""},
		{"select into", "SELECT * INTO backup FROM sales", errors.ReasonNotASelectStatement, ""},
		{"mutating token", "SELECT 1 FROM sales WHERE drop = 1", errors.ReasonNotASelectStatement, ""},
		{"unterminated", "SELECT 'x FROM sales", errors.ReasonNotASelectStatement, ""},
		{"missing table", "SELECT 1 FROM", errors.ReasonNotASelectStatement, ""},
		{"three part name", "SELECT * FROM default.secret.creds", errors.ReasonDisallowedSchema, "default.secret.creds"},
		{"three part join", "SELECT s.id FROM sales s JOIN analytics.x.y ON 1 = 1", errors.ReasonDisallowedSchema, "analytics.x.y"},
		{"table function", "SELECT * FROM read_csv('/etc/passwd')", errors.ReasonNotASelectStatement, ""},
		{"qualified table function", "SELECT * FROM default.read_parquet('x.parquet')", errors.ReasonNotASelectStatement, ""},
		{"file reading call", "SELECT read_text('/etc/passwd')", errors.ReasonNotASelectStatement, ""},
		{"call in filter", "SELECT id FROM sales WHERE getenv('HOME') = 'x'", errors.ReasonNotASelectStatement, ""},
		{"quoted name call", `SELECT "sum"(amount) FROM sales`, errors.ReasonNotASelectStatement, ""},
		{"aggregates and in list", "SELECT COUNT(*), max(amount) FROM sales WHERE region IN ('a', 'b') AND NOT (amount > 1)", errors.ReasonNone, ""},
		{"exists subquery", "SELECT id FROM sales WHERE EXISTS (SELECT 1 FROM analytics.events)", errors.ReasonNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeneratedQuery(tt.query, allowed, "default")
			if tt.wantReason == errors.ReasonNone {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypePostValidation))
			assert.Equal(t, tt.wantReason, errors.GetReason(err))

			if tt.wantIdent != "" {
				structErr, _ := errors.As(err)
				assert.Equal(t, tt.wantIdent, structErr.Identifier)
			}
		})
	}
}

func TestValidateGeneratedQueryDefaultSchema(t *testing.T) {
	err := ValidateGeneratedQuery("SELECT id FROM sales", []string{"analytics"}, "main")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonDisallowedSchema))

	structErr, _ := errors.As(err)
	assert.Equal(t, "main.sales", structErr.Identifier)
}

func TestValidatorValidateQueryUsesPolicy(t *testing.T) {
	v, _ := newTestValidator(testPolicy())

	assert.NoError(t, v.ValidateQuery("SELECT id FROM analytics.events", nil))
	assert.Error(t, v.ValidateQuery("SELECT id FROM analytics.events", []string{"default"}))
}

func TestExtractTables(t *testing.T) {
	refs, err := ExtractTables(Tokenize(
		`SELECT a FROM main.sales AS s LEFT JOIN "Customers" c ON s.id = c.id, other WHERE x IN (SELECT y FROM analytics.t)`))
	require.NoError(t, err)

	assert.Equal(t, []TableRef{
		{Schema: "main", Name: "sales"},
		{Name: "customers"},
		{Schema: "analytics", Name: "t"},
	}, refs)
}

func TestExtractTablesRejectsUnsafeRefs(t *testing.T) {
	_, err := ExtractTables(Tokenize("SELECT 1 FROM a.b.c"))
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonDisallowedSchema))

	_, err = ExtractTables(Tokenize("SELECT 1 FROM generate_series(1, 3)"))
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonNotASelectStatement))
}

func TestMatchInjectionOrder(t *testing.T) {
	// both SQLI-001 and SQLI-006 match; the earlier rule wins
	rule, ok := MatchInjection("x; --")
	require.True(t, ok)
	assert.Equal(t, "SQLI-001", rule.ID)

	_, ok = MatchInjection("show me total sales by region")
	assert.False(t, ok)
}
