package docstore

import (
	"context"
	"fmt"
)

// RunQuery executes a single-filter query and returns matching snapshots in
// order. Field values are matched against the JSON representation stored in
// the document.
func (s *Store) RunQuery(ctx context.Context, q Query) ([]Snapshot, error) {
	if q.Collection == "" || q.Field == "" {
		return nil, fmt.Errorf("query needs a collection and a filter field")
	}
	stmt := `SELECT id, data FROM documents WHERE collection=? AND json_extract(data, ?)=?`
	args := []interface{}{q.Collection, "$." + q.Field, queryArg(q.Equals)}
	if q.OrderBy != "" {
		stmt += ` ORDER BY json_extract(data, ?)`
		if q.Descending {
			stmt += ` DESC`
		}
		args = append(args, "$."+q.OrderBy)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{ID: id, Data: data})
	}
	return out, rows.Err()
}

// queryArg maps Go values onto SQLite's json_extract result space.
func queryArg(v interface{}) interface{} {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}
