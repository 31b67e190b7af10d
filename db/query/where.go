package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Condition is one of the shapes accepted by Where and OrWhere: Raw, Map or
// List. A single Eq or Cmp is also a Condition.
type Condition interface {
	clauses() []string
}

// Clause is one element of a List: Raw, Eq or Cmp.
type Clause interface {
	clause() string
}

// Raw is a SQL fragment used verbatim. A blank Raw yields no clause.
type Raw string

func (r Raw) clause() string { return strings.TrimSpace(string(r)) }

func (r Raw) clauses() []string {
	if c := r.clause(); c != "" {
		return []string{c}
	}
	return nil
}

// Map is a flat column to value mapping compared with "=".
// Columns are emitted in sorted order.
type Map map[string]any

func (m Map) clauses() []string {
	cols := make([]string, 0, len(m))
	for col := range m {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	out := make([]string, 0, len(cols))
	for _, col := range cols {
		out = append(out, Eq{Column: col, Value: m[col]}.clause())
	}
	return out
}

// Eq is the two-element [column, value] clause.
type Eq struct {
	Column string
	Value  any
}

func (e Eq) clause() string { return e.Column + " = " + Escape(e.Value) }

func (e Eq) clauses() []string { return []string{e.clause()} }

// Cmp is the three-element [column, operator, value] clause.
type Cmp struct {
	Column string
	Op     string
	Value  any
}

func (c Cmp) clause() string {
	return c.Column + " " + strings.TrimSpace(c.Op) + " " + Escape(c.Value)
}

func (c Cmp) clauses() []string { return []string{c.clause()} }

// C builds an Eq clause.
func C(column string, value any) Eq { return Eq{Column: column, Value: value} }

// Op builds a Cmp clause.
func Op(column, op string, value any) Cmp { return Cmp{Column: column, Op: op, Value: value} }

// List is a sequence of clauses.
type List []Clause

func (l List) clauses() []string {
	out := make([]string, 0, len(l))
	for _, c := range l {
		if c == nil {
			continue
		}
		if s := c.clause(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ErrBadCondition is returned by Parse for values that match none of the accepted shapes.
var ErrBadCondition = errors.New("query: unsupported condition shape")

// Parse converts a dynamically shaped value, typically decoded from JSON, into a
// Condition. It accepts a string, a map[string]any, a Condition, or a []any whose
// elements are strings, [column, value] pairs or [column, operator, value] triples.
func Parse(v any) (Condition, error) {
	switch x := v.(type) {
	case nil:
		return Raw(""), nil
	case Condition:
		return x, nil
	case string:
		return Raw(x), nil
	case map[string]any:
		return Map(x), nil
	case []any:
		list := make(List, 0, len(x))
		for i, item := range x {
			c, err := parseClause(item)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %v", ErrBadCondition, i, err)
			}
			list = append(list, c)
		}
		return list, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrBadCondition, v)
}

func parseClause(item any) (Clause, error) {
	switch x := item.(type) {
	case string:
		return Raw(x), nil
	case Clause:
		return x, nil
	case []any:
		switch len(x) {
		case 2:
			col, ok := x[0].(string)
			if !ok {
				return nil, fmt.Errorf("column must be a string, got %T", x[0])
			}
			return Eq{Column: col, Value: x[1]}, nil
		case 3:
			col, ok := x[0].(string)
			if !ok {
				return nil, fmt.Errorf("column must be a string, got %T", x[0])
			}
			op, ok := x[1].(string)
			if !ok {
				return nil, fmt.Errorf("operator must be a string, got %T", x[1])
			}
			return Cmp{Column: col, Op: op, Value: x[2]}, nil
		}
		return nil, fmt.Errorf("expected 2 or 3 elements, got %d", len(x))
	}
	return nil, fmt.Errorf("unsupported clause %T", item)
}

// group is one parenthesised WHERE group and the connector that attaches it.
type group struct {
	connector string
	sql       string
}

func newGroup(cond Condition, connector string) (group, bool) {
	if cond == nil {
		return group{}, false
	}
	cs := cond.clauses()
	if len(cs) == 0 {
		return group{}, false
	}
	return group{
		connector: connector,
		sql:       "(" + strings.Join(cs, " "+connector+" ") + ")",
	}, true
}

// joinGroups renders groups without the WHERE keyword.
func joinGroups(groups []group) string {
	var b strings.Builder
	for i, g := range groups {
		if i > 0 {
			b.WriteString(" " + g.connector + " ")
		}
		b.WriteString(g.sql)
	}
	return b.String()
}

// Compile renders cond as a standalone predicate, as used by Update and Delete.
func Compile(cond Condition) string {
	g, ok := newGroup(cond, "AND")
	if !ok {
		return ""
	}
	return joinGroups([]group{g})
}
