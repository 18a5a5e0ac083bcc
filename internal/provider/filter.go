package provider

import (
	"cmp"
	"fmt"
	"slices"
)

type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpIn:
		return "IN"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Cond is one predicate. For OpIn, Value holds a []any.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Cond

func Eq(col string, v any) Cond { return Cond{Column: col, Op: OpEq, Value: v} }
func Ne(col string, v any) Cond { return Cond{Column: col, Op: OpNe, Value: v} }

func In(col string, vs ...any) Cond {
	return Cond{Column: col, Op: OpIn, Value: vs}
}

// Where builds a filter from conditions.
func Where(conds ...Cond) Filter { return Filter(conds) }

// ByID selects the record with the given id.
func ByID(id int64) Filter { return Filter{Eq(ColID, id)} }

// Order sorts results by a single column.
type Order struct {
	Column string
	Desc   bool
}

func Asc(col string) Order  { return Order{Column: col} }
func Desc(col string) Order { return Order{Column: col, Desc: true} }

// Match reports whether v satisfies every condition in f. Missing columns read
// as null.
func (f Filter) Match(v Values) bool {
	for _, c := range f {
		got := Normalize(v[c.Column])
		switch c.Op {
		case OpEq:
			if got != Normalize(c.Value) {
				return false
			}
		case OpNe:
			if got == Normalize(c.Value) {
				return false
			}
		case OpIn:
			vs, _ := c.Value.([]any)
			if !slices.ContainsFunc(vs, func(x any) bool { return Normalize(x) == got }) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Columns returns the distinct columns referenced by f.
func (f Filter) Columns() []string {
	var out []string
	for _, c := range f {
		if !slices.Contains(out, c.Column) {
			out = append(out, c.Column)
		}
	}
	return out
}

// Normalize converts v to the store's representation: integer kinds become
// int64, booleans become 0/1 flags and byte slices become strings.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case bool:
		return Flag(x)
	case []byte:
		return string(x)
	}
	return v
}

// Select filters, sorts and projects records. It is the common query path of
// in-process implementations.
func Select(records []Values, projection []string, f Filter, order ...Order) *SliceRows {
	matched := make([]Values, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			matched = append(matched, r)
		}
	}
	SortValues(matched, order...)
	rows := make([]Row, 0, len(matched))
	for _, r := range matched {
		rows = append(rows, Project(r, projection))
	}
	return NewSliceRows(rows)
}

// SortValues sorts records in place by the given columns.
func SortValues(records []Values, order ...Order) {
	if len(order) == 0 {
		return
	}
	slices.SortStableFunc(records, func(a, b Values) int {
		for _, o := range order {
			c := compare(a[o.Column], b[o.Column])
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// Project returns the values of projection's columns in order.
func Project(v Values, projection []string) Row {
	row := make(Row, len(projection))
	for i, col := range projection {
		row[i] = v[col]
	}
	return row
}

// compare orders nulls first, then integers, then strings.
func compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
