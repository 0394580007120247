// Package kql builds Kusto queries for the advanced hunting API from typed
// predicates. Literal values are always escaped; column and table names are
// validated or bracket-quoted.
package kql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Expr is a rendered scalar expression.
type Expr interface {
	kql() string
}

type raw string

func (r raw) kql() string { return string(r) }

// Ident references a column or let-bound name.
func Ident(name string) Expr {
	return raw(quoteIdent(name))
}

// String is a string literal.
func String(s string) Expr {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return raw(b.String())
}

// Int is an integer literal.
func Int(n int64) Expr {
	return raw(strconv.FormatInt(n, 10))
}

// Datetime is a UTC datetime literal.
func Datetime(t time.Time) Expr {
	return raw("datetime(" + t.UTC().Format(time.RFC3339Nano) + ")")
}

// Dynamic is a dynamic array of strings, encoded as JSON.
func Dynamic(values ...string) (Expr, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return raw("dynamic(" + string(b) + ")"), nil
}

// Predicate is a boolean filter for a where clause.
type Predicate struct {
	column string
	op     string
	value  Expr
}

func compare(column, op string, v Expr) Predicate {
	return Predicate{column: column, op: op, value: v}
}

func Equal(column string, v Expr) Predicate    { return compare(column, "==", v) }
func NotEqual(column string, v Expr) Predicate { return compare(column, "!=", v) }
func Greater(column string, v Expr) Predicate  { return compare(column, ">", v) }
func In(column string, set Expr) Predicate     { return compare(column, "in", set) }

func (p Predicate) kql() string {
	v := p.value.kql()
	if p.op == "in" {
		v = "(" + v + ")"
	}
	return quoteIdent(p.column) + " " + p.op + " " + v
}

type binding struct {
	name  string
	value Expr
}

// Query is a tabular pipeline: optional let statements, a source table, a
// sequence of where clauses and a final projection.
type Query struct {
	lets    []binding
	table   string
	filters []Predicate
	project []string
}

func From(table string) *Query {
	return &Query{table: table}
}

func (q *Query) Let(name string, v Expr) *Query {
	q.lets = append(q.lets, binding{name: name, value: v})
	return q
}

func (q *Query) Where(p Predicate) *Query {
	q.filters = append(q.filters, p)
	return q
}

func (q *Query) Project(columns ...string) *Query {
	q.project = append(q.project, columns...)
	return q
}

func (q *Query) String() string {
	var b strings.Builder
	for _, l := range q.lets {
		fmt.Fprintf(&b, "let %s = %s;\n", quoteIdent(l.name), l.value.kql())
	}
	b.WriteString(quoteIdent(q.table))
	for _, f := range q.filters {
		b.WriteString("\n| where ")
		b.WriteString(f.kql())
	}
	if len(q.project) > 0 {
		cols := make([]string, len(q.project))
		for i, c := range q.project {
			cols[i] = quoteIdent(c)
		}
		b.WriteString("\n| project ")
		b.WriteString(strings.Join(cols, ", "))
	}
	return b.String()
}

func quoteIdent(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return "['" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name) + "']"
}
