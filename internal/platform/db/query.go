package db

import (
	"fmt"
	"strconv"
	"strings"
)

// ListQuery assembles a filtered, paginated SELECT and its matching COUNT.
// Clauses use "?" placeholders, numbered in the order they are added.
type ListQuery struct {
	from    string
	cols    string
	where   []string
	args    []interface{}
	orderBy string
}

// NewListQuery starts a query over from, which may include joins.
func NewListQuery(from, cols string) *ListQuery {
	return &ListQuery{from: from, cols: cols}
}

// Add appends a WHERE condition. Each "?" consumes one arg.
func (q *ListQuery) Add(clause string, args ...interface{}) *ListQuery {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' && n < len(args) {
			b.WriteString("$" + strconv.Itoa(len(q.args)+n+1))
			n++
			continue
		}
		b.WriteRune(r)
	}
	q.where = append(q.where, b.String())
	q.args = append(q.args, args[:n]...)
	return q
}

func (q *ListQuery) OrderBy(orderBy string) *ListQuery {
	q.orderBy = orderBy
	return q
}

func (q *ListQuery) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *ListQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.from, q.whereSQL())
}

func (q *ListQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the page query. A limit <= 0 selects every row.
func (q *ListQuery) DataSQL(limit int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.from, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)+1, len(q.args)+2)
	}
	return sql
}

func (q *ListQuery) DataArgs(limit, offset int) []interface{} {
	if limit <= 0 {
		return q.args
	}
	out := make([]interface{}, 0, len(q.args)+2)
	out = append(out, q.args...)
	return append(out, limit, offset)
}

// ContainsPattern escapes s for use in an ILIKE substring match.
func ContainsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
