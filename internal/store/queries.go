package store

import (
	"strings"

	"github.com/sells-group/leadsync/internal/db"
)

// query accumulates WHERE conditions and bind values, numbering placeholders
// as they are added.
type query struct {
	ph    db.Placeholder
	conds []string
	args  []any
}

func newQuery(ph db.Placeholder) *query {
	if ph == nil {
		ph = db.Dollar
	}
	return &query{ph: ph}
}

// bind appends v and returns its placeholder.
func (q *query) bind(v any) string {
	q.args = append(q.args, v)
	return q.ph(len(q.args))
}

func (q *query) where(cond string) {
	q.conds = append(q.conds, cond)
}

func (q *query) sql(order string) string {
	s := "SELECT " + leadSelect + " FROM leads"
	if len(q.conds) > 0 {
		s += " WHERE " + strings.Join(q.conds, " AND ")
	}
	return s + " ORDER BY " + order + " LIMIT 1"
}

// candidateQuery selects the newest lead created at or after since whose
// email or phone equals the input exactly. ok is false when both keys are
// blank.
func candidateQuery(ph db.Placeholder, since int64, email, phone string) (sql string, args []any, ok bool) {
	q := newQuery(ph)
	var keys []string
	q.where("created_at >= " + q.bind(since))
	if email != "" {
		keys = append(keys, "email = "+q.bind(email))
	}
	if phone != "" {
		keys = append(keys, "phone = "+q.bind(phone))
	}
	if len(keys) == 0 {
		return "", nil, false
	}
	q.where("(" + strings.Join(keys, " OR ") + ")")
	return q.sql("created_at DESC, identity_id DESC"), q.args, true
}

// contactQuery selects the oldest lead with an exact email, or a phone
// ending in the full comparable number or its suffix.
func contactQuery(ph db.Placeholder, email, phoneFull, phoneSuffix string) (sql string, args []any, ok bool) {
	q := newQuery(ph)
	var keys []string
	if email != "" {
		keys = append(keys, "email = "+q.bind(email))
	}
	if phoneFull != "" {
		keys = append(keys, "phone LIKE '%' || "+q.bind(phoneFull))
	}
	if phoneSuffix != "" && phoneSuffix != phoneFull {
		keys = append(keys, "phone LIKE '%' || "+q.bind(phoneSuffix))
	}
	if len(keys) == 0 {
		return "", nil, false
	}
	q.where("(" + strings.Join(keys, " OR ") + ")")
	return q.sql("created_at ASC, identity_id ASC"), q.args, true
}

// nameQuery selects the newest lead created at or after since whose first
// name (and last name, when given) match case-insensitively.
func nameQuery(ph db.Placeholder, since int64, first, last string) (sql string, args []any, ok bool) {
	if first == "" {
		return "", nil, false
	}
	q := newQuery(ph)
	q.where("created_at >= " + q.bind(since))
	q.where("LOWER(first_name) = LOWER(" + q.bind(first) + ")")
	if last != "" {
		q.where("LOWER(last_name) = LOWER(" + q.bind(last) + ")")
	}
	return q.sql("created_at DESC, identity_id DESC"), q.args, true
}
