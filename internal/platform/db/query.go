package db

import (
	"fmt"
	"strings"
	"time"
)

// SearchQuery builds the WHERE clause shared by a list query and its count.
// Clauses are ANDed; placeholders are numbered in the order arguments are
// added.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery starts a query over table selecting cols. table may be a
// join expression.
func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{table: table, cols: cols, idx: 1}
}

// Idx returns the next placeholder index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a raw clause (without leading AND). Placeholders in clause
// must start at Idx(); the same placeholder may appear more than once.
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// Eq adds column = value.
func (q *SearchQuery) Eq(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// Contains adds a case-insensitive substring match against any of columns.
func (q *SearchQuery) Contains(value string, columns ...string) {
	if value == "" || len(columns) == 0 {
		return
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, q.idx)
	}
	q.Add("("+strings.Join(parts, " OR ")+")", "%"+escapeLike(value)+"%")
}

// Between restricts column to [from, to). Nil bounds are open.
func (q *SearchQuery) Between(column string, from, to *time.Time) {
	if from != nil {
		q.Add(fmt.Sprintf("%s >= $%d", column, q.idx), *from)
	}
	if to != nil {
		q.Add(fmt.Sprintf("%s < $%d", column, q.idx), *to)
	}
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// AllSQL returns the data query without pagination.
func (q *SearchQuery) AllSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL(limit, offset int) string {
	return q.AllSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

// DataArgs returns the search args followed by limit and offset.
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
