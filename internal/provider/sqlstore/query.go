package sqlstore

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/lib/pq"

	"devicecal/internal/provider"
)

var ErrUnknownColumn = errors.New("sqlstore: unknown column")

// builder accumulates SQL text and positional arguments.
type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func tableName(c provider.Collection) (string, error) {
	switch c {
	case provider.Calendars:
		return "calendars", nil
	case provider.Events, provider.Exceptions:
		return "events", nil
	case provider.Attendees:
		return "attendees", nil
	case provider.Reminders:
		return "reminders", nil
	}
	return "", fmt.Errorf("sqlstore: unknown collection %q", c)
}

// column returns col if it belongs to c. Identifiers are never taken from
// input without this check.
func column(c provider.Collection, col string) (string, error) {
	if !slices.Contains(provider.TableColumns[c], col) {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	return col, nil
}

func (b *builder) where(c provider.Collection, f provider.Filter) error {
	f = append(provider.Scope(c), f...)
	if len(f) == 0 {
		return nil
	}
	conds := make([]string, 0, len(f))
	for _, cond := range f {
		col, err := column(c, cond.Column)
		if err != nil {
			return err
		}
		val := provider.Normalize(cond.Value)
		switch cond.Op {
		case provider.OpEq:
			if val == nil {
				conds = append(conds, col+" IS NULL")
			} else {
				conds = append(conds, col+" = "+b.arg(val))
			}
		case provider.OpNe:
			if val == nil {
				conds = append(conds, col+" IS NOT NULL")
			} else {
				// Null compares unequal to any value, as in the in-memory store.
				conds = append(conds, col+" IS DISTINCT FROM "+b.arg(val))
			}
		case provider.OpIn:
			vs, _ := cond.Value.([]any)
			if len(vs) == 0 {
				conds = append(conds, "FALSE")
				continue
			}
			arr, err := array(vs)
			if err != nil {
				return fmt.Errorf("sqlstore: %s: %w", col, err)
			}
			conds = append(conds, col+" = ANY("+b.arg(arr)+")")
		default:
			return fmt.Errorf("sqlstore: unsupported operator %s", cond.Op)
		}
	}
	b.write(" WHERE ", strings.Join(conds, " AND "))
	return nil
}

// array converts an IN list into a typed postgres array.
func array(vs []any) (any, error) {
	ints := make([]int64, 0, len(vs))
	strs := make([]string, 0, len(vs))
	for _, v := range vs {
		switch x := provider.Normalize(v).(type) {
		case int64:
			ints = append(ints, x)
		case string:
			strs = append(strs, x)
		default:
			return nil, fmt.Errorf("unsupported IN value %T", v)
		}
	}
	switch {
	case len(strs) == 0:
		return pq.Array(ints), nil
	case len(ints) == 0:
		return pq.Array(strs), nil
	}
	return nil, errors.New("mixed IN value types")
}

func (b *builder) orderBy(c provider.Collection, order []provider.Order) error {
	if len(order) == 0 {
		return nil
	}
	parts := make([]string, 0, len(order))
	for _, o := range order {
		col, err := column(c, o.Column)
		if err != nil {
			return err
		}
		if o.Desc {
			parts = append(parts, col+" DESC NULLS LAST")
		} else {
			parts = append(parts, col+" ASC NULLS FIRST")
		}
	}
	b.write(" ORDER BY ", strings.Join(parts, ", "))
	return nil
}

func buildSelect(c provider.Collection, projection []string, f provider.Filter, order []provider.Order) (string, []any, error) {
	if len(projection) == 0 {
		return "", nil, errors.New("sqlstore: empty projection")
	}
	table, err := tableName(c)
	if err != nil {
		return "", nil, err
	}
	cols := make([]string, 0, len(projection))
	for _, p := range projection {
		col, err := column(c, p)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}

	var b builder
	b.write("SELECT ", strings.Join(cols, ", "), " FROM ", table)
	if err := b.where(c, f); err != nil {
		return "", nil, err
	}
	if err := b.orderBy(c, order); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

func buildInsert(c provider.Collection, v provider.Values) (string, []any, error) {
	table, err := tableName(c)
	if err != nil {
		return "", nil, err
	}
	var b builder
	if len(v) == 0 {
		b.write("INSERT INTO ", table, " DEFAULT VALUES RETURNING ", provider.ColID)
		return b.sb.String(), nil, nil
	}

	keys := slices.Sorted(maps.Keys(v))
	cols := make([]string, 0, len(keys))
	params := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == provider.ColID {
			return "", nil, errors.New("sqlstore: _id is assigned by the store")
		}
		col, err := column(c, k)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		params = append(params, b.arg(provider.Normalize(v[k])))
	}
	b.write("INSERT INTO ", table, " (", strings.Join(cols, ", "), ") VALUES (",
		strings.Join(params, ", "), ") RETURNING ", provider.ColID)
	return b.sb.String(), b.args, nil
}

func buildUpdate(c provider.Collection, f provider.Filter, v provider.Values) (string, []any, error) {
	if len(v) == 0 {
		return "", nil, errors.New("sqlstore: empty update")
	}
	table, err := tableName(c)
	if err != nil {
		return "", nil, err
	}
	var b builder
	sets := make([]string, 0, len(v))
	for _, k := range slices.Sorted(maps.Keys(v)) {
		if k == provider.ColID {
			return "", nil, errors.New("sqlstore: cannot update _id")
		}
		col, err := column(c, k)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, col+" = "+b.arg(provider.Normalize(v[k])))
	}
	b.write("UPDATE ", table, " SET ", strings.Join(sets, ", "))
	if err := b.where(c, f); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

func buildDelete(c provider.Collection, f provider.Filter) (string, []any, error) {
	table, err := tableName(c)
	if err != nil {
		return "", nil, err
	}
	var b builder
	b.write("DELETE FROM ", table)
	if err := b.where(c, f); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

// buildInstanceSource selects the event rows an Instances call expands: the
// masters matching f's calendar_id and event_id predicates, and the
// exceptions of those masters. Predicates on other columns are applied after
// expansion.
func buildInstanceSource(f provider.Filter) (string, []any, error) {
	var b builder
	b.write("SELECT ", strings.Join(provider.TableColumns[provider.Events], ", "), " FROM events")

	var conds []string
	for _, cond := range f {
		switch cond.Column {
		case provider.ColCalendarID:
			p, ok, err := b.pushdown(provider.ColCalendarID, cond)
			if err != nil {
				return "", nil, err
			}
			if ok {
				conds = append(conds, "("+p+" OR "+provider.ColOriginalID+" IN (SELECT "+provider.ColID+" FROM events WHERE "+p+"))")
			}
		case provider.ColEventID:
			p, ok, err := b.pushdown(provider.ColID, cond)
			if err != nil {
				return "", nil, err
			}
			if ok {
				exc := strings.Replace(p, provider.ColID, provider.ColOriginalID, 1)
				conds = append(conds, "("+p+" OR "+exc+")")
			}
		}
	}
	if len(conds) > 0 {
		b.write(" WHERE ", strings.Join(conds, " AND "))
	}
	return b.sb.String(), b.args, nil
}

// pushdown renders cond against col. Only equality and IN on non-null
// values are pushed down; ok is false otherwise.
func (b *builder) pushdown(col string, cond provider.Cond) (string, bool, error) {
	switch cond.Op {
	case provider.OpEq:
		val := provider.Normalize(cond.Value)
		if val == nil {
			return "", false, nil
		}
		return col + " = " + b.arg(val), true, nil
	case provider.OpIn:
		vs, _ := cond.Value.([]any)
		if len(vs) == 0 {
			return "FALSE", true, nil
		}
		arr, err := array(vs)
		if err != nil {
			return "", false, fmt.Errorf("sqlstore: %s: %w", cond.Column, err)
		}
		return col + " = ANY(" + b.arg(arr) + ")", true, nil
	}
	return "", false, nil
}
