package sqlparse

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports malformed SQL with the byte offset where it was noticed.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// TableRef is one item in a FROM or JOIN clause.
type TableRef struct {
	Name     string // unqualified name, decoded
	Schema   string // qualifier before the last dot, if any
	Alias    string
	Start    int // byte offset of the (qualified) name
	End      int
	Function bool // table function call such as read_parquet(...)
	File     bool // string literal path: FROM 'data.csv'
	CTE      bool // resolves to a WITH clause name
}

// QualifiedName returns schema.name, or name when unqualified.
func (r TableRef) QualifiedName() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// FuncCall is a function invocation anywhere in the statement.
type FuncCall struct {
	Name string // lower-cased, unqualified
	Pos  int
}

// Limit is a top-level LIMIT or FETCH FIRST clause.
type Limit struct {
	Value   int64 // valid when Literal is true
	Literal bool  // the whole bound is one integer literal
	All     bool  // LIMIT ALL
	Percent bool  // LIMIT 10% or LIMIT 10 PERCENT
	Start   int   // offsets of the bound expression, up to OFFSET or the end
	End     int
}

// Statement is the structural summary of one SQL statement.
type Statement struct {
	Text  string // source text without the trailing semicolon
	Start int
	End   int // end of the last token; trailing comments are excluded
	Verb  string
	CTEs  []string
	Refs  []TableRef
	Calls []FuncCall
	Limit *Limit
}

// ReadOnly reports whether the statement is a plain query.
func (s *Statement) ReadOnly() bool {
	return readVerbs[s.Verb]
}

// TableNames returns the distinct physical tables referenced, in order of
// first appearance. CTE references, table functions and file paths are
// excluded. Names keep their original spelling; duplicates are detected
// case-insensitively.
func (s *Statement) TableNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Refs {
		if r.CTE || r.Function || r.File {
			continue
		}
		name := r.QualifiedName()
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

var readVerbs = map[string]bool{
	"SELECT": true,
	"VALUES": true,
	"FROM":   true,
	"TABLE":  true,
}

// statementVerbs are the leading keywords DuckDB accepts for a statement.
var statementVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "FROM": true, "TABLE": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "COMMENT": true,
	"ATTACH": true, "DETACH": true, "USE": true, "COPY": true, "EXPORT": true, "IMPORT": true,
	"INSTALL": true, "LOAD": true, "FORCE": true, "PRAGMA": true, "SET": true, "RESET": true,
	"CALL": true, "EXECUTE": true, "PREPARE": true, "DEALLOCATE": true,
	"BEGIN": true, "START": true, "COMMIT": true, "ROLLBACK": true, "ABORT": true, "END": true,
	"GRANT": true, "REVOKE": true, "VACUUM": true, "ANALYZE": true, "CHECKPOINT": true,
	"EXPLAIN": true, "DESCRIBE": true, "SHOW": true, "SUMMARIZE": true, "PIVOT": true, "UNPIVOT": true,
}

// reserved words never act as an implicit alias or a table name.
var reserved = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true,
	"LIMIT": true, "OFFSET": true, "FETCH": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true, "OUTER": true,
	"CROSS": true, "NATURAL": true, "POSITIONAL": true, "ASOF": true, "SEMI": true, "ANTI": true,
	"ON": true, "USING": true, "WINDOW": true, "QUALIFY": true, "WITH": true, "AS": true,
	"LATERAL": true, "TABLESAMPLE": true, "USING_SAMPLE": true, "PIVOT": true, "UNPIVOT": true,
	"RETURNING": true, "SET": true, "VALUES": true, "AND": true, "OR": true, "NOT": true,
	"IN": true, "IS": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"BY": true, "ALL": true, "DISTINCT": true,
}

// notCalls are keywords that may precede a parenthesis without being a function.
var notCalls = map[string]bool{
	"IN": true, "EXISTS": true, "AS": true, "ON": true, "USING": true, "VALUES": true,
	"OVER": true, "FILTER": true, "WITHIN": true, "ANY": true, "ALL": true, "SOME": true,
	"AND": true, "OR": true, "NOT": true, "FROM": true, "JOIN": true, "SELECT": true,
	"WHERE": true, "HAVING": true, "WHEN": true, "THEN": true, "ELSE": true, "BY": true,
	"LATERAL": true, "INTO": true, "TABLE": true, "WITH": true, "MATERIALIZED": true,
	"UNION": true, "EXCEPT": true, "INTERSECT": true, "RECURSIVE": true, "IS": true,
	"LIMIT": true, "OFFSET": true, "RETURNING": true, "DISTINCT": true, "QUALIFY": true,
}

// danglingKeywords cannot end a statement.
var danglingKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "HAVING": true, "JOIN": true, "ON": true,
	"USING": true, "LIMIT": true, "OFFSET": true, "BY": true, "AND": true, "OR": true,
	"NOT": true, "AS": true, "UNION": true, "EXCEPT": true, "INTERSECT": true, "DISTINCT": true,
	"WITH": true, "IN": true, "BETWEEN": true, "LIKE": true, "ILIKE": true, "CASE": true,
	"WHEN": true, "THEN": true, "ELSE": true, "IS": true, "GROUP": true, "ORDER": true,
	"QUALIFY": true,
}

// clauseStarts begin a new clause and cannot follow a comma.
var clauseStarts = map[string]bool{
	"FROM": true, "WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"UNION": true, "EXCEPT": true, "INTERSECT": true, "QUALIFY": true, "WINDOW": true,
	"ON": true, "JOIN": true, "OFFSET": true,
}

// structuralOps may legitimately precede a clause keyword.
var structuralOps = map[string]bool{
	"(": true, ")": true, "[": true, "]": true, "{": true, "}": true,
	"*": true, ",": true, ";": true, "%": true,
}

type frameKind int

const (
	frameQuery frameKind = iota // statement body or subquery
	frameCall                   // function call arguments
	frameGroup                  // expression grouping, list or parenthesized join
)

type frame struct {
	kind        frameKind
	open        Token
	fromClause  bool // inside a FROM/JOIN item list
	expectTable bool
}

// ParseAll splits sql into statements and analyzes each one. Empty statements
// between semicolons are ignored; input with no statement is an error.
func ParseAll(sql string) ([]*Statement, error) {
	toks := Tokenize(sql)
	last := toks[len(toks)-1]
	if last.Kind == TokenIllegal {
		return nil, &SyntaxError{Pos: last.Pos, Msg: last.Value}
	}

	var stmts []*Statement
	begin := 0
	depth := 0
	for i, tok := range toks {
		switch {
		case tok.IsOp("(") || tok.IsOp("[") || tok.IsOp("{"):
			depth++
		case tok.IsOp(")") || tok.IsOp("]") || tok.IsOp("}"):
			depth--
		}
		if tok.Kind == TokenEOF || (depth <= 0 && tok.IsOp(";")) {
			if i > begin {
				stmt, err := analyze(sql, toks[begin:i])
				if err != nil {
					return nil, err
				}
				stmts = append(stmts, stmt)
			}
			begin = i + 1
		}
	}

	if len(stmts) == 0 {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}
	return stmts, nil
}

// Parse analyzes a single statement and rejects multi-statement input.
func Parse(sql string) (*Statement, error) {
	stmts, err := ParseAll(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) > 1 {
		return nil, fmt.Errorf("multi-statement queries are not allowed")
	}
	return stmts[0], nil
}

// parser walks the tokens of one statement.
type parser struct {
	src   string
	toks  []Token
	stack []frame
	stmt  *Statement
}

func analyze(src string, toks []Token) (*Statement, error) {
	first, lastTok := toks[0], toks[len(toks)-1]
	p := &parser{
		src:  src,
		toks: toks,
		stmt: &Statement{
			Text:  src[first.Pos:lastTok.End],
			Start: first.Pos,
			End:   lastTok.End,
		},
		stack: []frame{{kind: frameQuery}},
	}

	if err := p.verb(); err != nil {
		return nil, err
	}
	// Non-query statements are rejected by verb; their structure is best effort.
	err := p.walk()
	if err == nil {
		err = p.checkEnd()
	}
	if err != nil && p.stmt.ReadOnly() {
		return nil, err
	}

	ctes := make(map[string]bool, len(p.stmt.CTEs))
	for _, name := range p.stmt.CTEs {
		ctes[strings.ToLower(name)] = true
	}
	for i := range p.stmt.Refs {
		r := &p.stmt.Refs[i]
		if r.Schema == "" && !r.Function && !r.File && ctes[strings.ToLower(r.Name)] {
			r.CTE = true
		}
	}
	return p.stmt, nil
}

func (p *parser) at(i int) Token {
	if i < 0 || i >= len(p.toks) {
		end := p.stmt.End
		return Token{Kind: TokenEOF, Pos: end, End: end}
	}
	return p.toks[i]
}

func (p *parser) errorf(tok Token, format string, args ...any) error {
	return &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

// verb determines the effective statement keyword and records CTE names.
func (p *parser) verb() error {
	first := p.at(0)
	i := 0
	for first.IsOp("(") {
		i++
		first = p.at(i)
	}
	kw := first.Keyword()
	if kw == "" || !statementVerbs[kw] {
		return p.errorf(first, "unexpected %q at start of statement", tokenText(first))
	}
	if kw != "WITH" {
		p.stmt.Verb = kw
		return nil
	}

	j, err := p.scanCTEs(i + 1)
	if err != nil {
		return err
	}
	next := p.at(j)
	for next.IsOp("(") {
		j++
		next = p.at(j)
	}
	if next.Kind == TokenEOF {
		return p.errorf(next, "expected a statement after WITH clause")
	}
	kw = next.Keyword()
	if kw == "" || !statementVerbs[kw] {
		return p.errorf(next, "unexpected %q after WITH clause", tokenText(next))
	}
	p.stmt.Verb = kw
	return nil
}

// scanCTEs records CTE names starting at index i (just after WITH) and
// returns the index of the first token after the CTE list.
func (p *parser) scanCTEs(i int) (int, error) {
	if p.at(i).IsKeyword("RECURSIVE") {
		i++
	}
	for {
		name := p.at(i)
		if name.Kind != TokenWord && name.Kind != TokenQuoted {
			return 0, p.errorf(name, "expected CTE name, got %q", tokenText(name))
		}
		p.stmt.CTEs = append(p.stmt.CTEs, name.Ident())
		i++
		if p.at(i).IsOp("(") {
			i = p.skipParens(i)
		}
		if !p.at(i).IsKeyword("AS") {
			return 0, p.errorf(p.at(i), "expected AS after CTE name %q", name.Ident())
		}
		i++
		if p.at(i).IsKeyword("NOT") {
			i++
		}
		if p.at(i).IsKeyword("MATERIALIZED") {
			i++
		}
		if !p.at(i).IsOp("(") {
			return 0, p.errorf(p.at(i), "expected ( to open CTE body")
		}
		i = p.skipParens(i)
		if !p.at(i).IsOp(",") {
			return i, nil
		}
		i++
	}
}

// skipParens returns the index after the parenthesis group opened at i.
func (p *parser) skipParens(i int) int {
	depth := 0
	for ; i < len(p.toks); i++ {
		switch {
		case p.toks[i].IsOp("("):
			depth++
		case p.toks[i].IsOp(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

func (p *parser) top() *frame { return &p.stack[len(p.stack)-1] }

func (p *parser) walk() error {
	for i := 0; i < len(p.toks); i++ {
		tok := p.toks[i]
		top := p.top()

		if top.expectTable {
			next, err := p.tableItem(i)
			if err != nil {
				return err
			}
			i = next
			continue
		}

		switch {
		case tok.IsOp("(") || tok.IsOp("[") || tok.IsOp("{"):
			p.open(i)
		case tok.IsOp(")") || tok.IsOp("]") || tok.IsOp("}"):
			if err := p.close(tok); err != nil {
				return err
			}
		case tok.Kind == TokenOp && !structuralOps[tok.Text]:
			after := p.at(i + 1)
			if after.Kind == TokenEOF || clauseStarts[after.Keyword()] {
				return p.errorf(after, "unexpected %q after %q", tokenText(after), tok.Text)
			}
		case tok.IsOp(","):
			after := p.at(i + 1)
			if after.IsOp(",") || after.IsOp(")") || after.Kind == TokenEOF || clauseStarts[after.Keyword()] {
				return p.errorf(after, "unexpected %q after ,", tokenText(after))
			}
			if top.fromClause {
				top.expectTable = true
			}
		case tok.Kind == TokenWord:
			if err := p.keyword(i); err != nil {
				return err
			}
		}
	}
	if len(p.stack) != 1 {
		open := p.top().open
		return p.errorf(open, "unclosed %q", open.Text)
	}
	return nil
}

func (p *parser) open(i int) {
	tok := p.toks[i]
	prev := p.at(i - 1)
	next := p.at(i + 1)
	f := frame{kind: frameGroup, open: tok}

	if tok.IsOp("(") {
		switch {
		case next.IsKeyword("SELECT", "WITH", "VALUES", "FROM", "TABLE"):
			f.kind = frameQuery
		case i > 0 && isCallName(prev):
			f.kind = frameCall
			p.stmt.Calls = append(p.stmt.Calls, FuncCall{Name: strings.ToLower(prev.Ident()), Pos: prev.Pos})
		}
	}
	p.stack = append(p.stack, f)
}

func (p *parser) close(tok Token) error {
	if len(p.stack) == 1 {
		return p.errorf(tok, "unbalanced %q", tok.Text)
	}
	want := map[string]string{"(": ")", "[": "]", "{": "}"}[p.top().open.Text]
	if tok.Text != want {
		return p.errorf(tok, "expected %q, got %q", want, tok.Text)
	}
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func isCallName(t Token) bool {
	if t.Kind == TokenQuoted {
		return true
	}
	kw := t.Keyword()
	return kw != "" && !notCalls[kw]
}

// keyword updates clause state for the word at index i.
func (p *parser) keyword(i int) error {
	tok := p.toks[i]
	top := p.top()
	depth0 := len(p.stack) == 1

	switch tok.Keyword() {
	case "FROM":
		if top.kind == frameCall {
			// EXTRACT(year FROM ts), TRIM(x FROM y)
			return nil
		}
		if p.at(i - 1).IsKeyword("DISTINCT") && p.at(i-2).IsKeyword("IS", "NOT") {
			// IS [NOT] DISTINCT FROM
			return nil
		}
		top.fromClause = true
		top.expectTable = true
	case "JOIN":
		top.fromClause = true
		top.expectTable = true
	case "SELECT":
		top.fromClause = false
		j := i + 1
		if p.at(j).IsKeyword("DISTINCT", "ALL") {
			j++
		}
		next := p.at(j)
		if next.Kind == TokenEOF || next.IsOp(")") || next.IsKeyword("FROM", "WHERE", "GROUP", "ORDER", "LIMIT", "UNION", "EXCEPT", "INTERSECT", "HAVING") {
			return p.errorf(next, "empty select list")
		}
	case "WHERE", "GROUP", "HAVING", "ORDER", "QUALIFY", "WINDOW", "SET", "RETURNING", "OFFSET":
		top.fromClause = false
	case "UNION", "EXCEPT", "INTERSECT":
		top.fromClause = false
		if depth0 {
			p.stmt.Limit = nil
		}
	case "WITH":
		if i > 0 {
			// nested WITH inside a subquery; WITH (options) is not a CTE list
			_, _ = p.scanCTEs(i + 1)
		}
	case "LIMIT":
		top.fromClause = false
		if depth0 {
			p.recordLimit(i+1, p.limitEnd(i+1))
		}
	case "FETCH":
		top.fromClause = false
		if depth0 && p.at(i+1).IsKeyword("FIRST", "NEXT") {
			p.recordLimit(i+2, i+2)
		}
	}
	return nil
}

// recordLimit stores the bound spanning tokens first..last.
func (p *parser) recordLimit(first, last int) {
	bound := p.at(first)
	lim := &Limit{Start: bound.Pos, End: p.at(last).End}
	for j := first; j <= last; j++ {
		if t := p.at(j); t.IsOp("%") || t.IsKeyword("PERCENT") {
			lim.Percent = true
		}
	}
	switch {
	case lim.Percent:
	case first == last && bound.Kind == TokenNumber:
		if v, err := strconv.ParseInt(strings.ReplaceAll(bound.Text, "_", ""), 10, 64); err == nil {
			lim.Value = v
			lim.Literal = true
		}
	case first == last && bound.IsKeyword("ALL"):
		lim.All = true
	}
	p.stmt.Limit = lim
}

// limitEnd returns the index of the last token of the LIMIT expression
// starting at i: everything up to a top-level OFFSET or the statement end.
func (p *parser) limitEnd(i int) int {
	depth := 0
	last := i
	for j := i; j < len(p.toks); j++ {
		t := p.toks[j]
		switch {
		case t.IsOp("("):
			depth++
		case t.IsOp(")"):
			if depth == 0 {
				return last
			}
			depth--
		case depth == 0 && t.IsKeyword("OFFSET"):
			return last
		}
		last = j
	}
	return last
}

// tableItem parses a FROM/JOIN item starting at i and returns the index of
// the last consumed token.
func (p *parser) tableItem(i int) (int, error) {
	top := p.top()
	tok := p.toks[i]

	switch {
	case tok.IsKeyword("LATERAL", "ONLY"):
		return i, nil
	case tok.IsOp("("):
		top.expectTable = false
		p.open(i)
		if f := p.top(); f.kind != frameQuery {
			// parenthesized join
			f.kind = frameGroup
			f.fromClause = true
			f.expectTable = true
		}
		return i, nil
	case tok.Kind == TokenString:
		top.expectTable = false
		ref := TableRef{Name: tok.Value, Start: tok.Pos, End: tok.End, File: true}
		end := p.alias(i+1, &ref)
		p.stmt.Refs = append(p.stmt.Refs, ref)
		return end, nil
	case tok.Kind == TokenQuoted || (tok.Kind == TokenWord && !reserved[tok.Keyword()]):
		top.expectTable = false
		parts := []Token{tok}
		j := i
		for p.at(j+1).IsOp(".") && (p.at(j+2).Kind == TokenWord || p.at(j+2).Kind == TokenQuoted) {
			parts = append(parts, p.at(j+2))
			j += 2
		}
		last := parts[len(parts)-1]
		ref := TableRef{Name: last.Ident(), Start: tok.Pos, End: last.End}
		if len(parts) > 1 {
			names := make([]string, 0, len(parts)-1)
			for _, part := range parts[:len(parts)-1] {
				names = append(names, part.Ident())
			}
			ref.Schema = strings.Join(names, ".")
		}
		if p.at(j + 1).IsOp("(") {
			ref.Function = true
			p.stmt.Refs = append(p.stmt.Refs, ref)
			// the argument list is handled by walk as a call frame
			return j, nil
		}
		end := p.alias(j+1, &ref)
		p.stmt.Refs = append(p.stmt.Refs, ref)
		return end, nil
	default:
		return 0, p.errorf(tok, "expected table name, got %q", tokenText(tok))
	}
}

// alias consumes an optional [AS] alias starting at i and returns the index
// of the last consumed token.
func (p *parser) alias(i int, ref *TableRef) int {
	tok := p.at(i)
	if tok.IsKeyword("AS") {
		name := p.at(i + 1)
		if name.Kind == TokenWord || name.Kind == TokenQuoted {
			ref.Alias = name.Ident()
			return i + 1
		}
		return i
	}
	if tok.Kind == TokenQuoted || (tok.Kind == TokenWord && !reserved[tok.Keyword()]) {
		ref.Alias = tok.Ident()
		return i
	}
	return i - 1
}

// checkEnd rejects statements that stop mid-clause.
func (p *parser) checkEnd() error {
	last := p.toks[len(p.toks)-1]
	if danglingKeywords[last.Keyword()] {
		return p.errorf(last, "unexpected end of input after %s", last.Keyword())
	}
	if last.Kind == TokenOp && !last.IsOp(")") && !last.IsOp("]") && !last.IsOp("}") && !last.IsOp("*") && !last.IsOp("%") {
		return p.errorf(last, "unexpected end of input after %q", last.Text)
	}
	return nil
}

func tokenText(t Token) string {
	if t.Kind == TokenEOF {
		return "end of input"
	}
	return t.Text
}
