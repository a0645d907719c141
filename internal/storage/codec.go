package storage

import (
	"encoding/json"
	"time"

	"bulksender/internal/dispatch"
)

// row is the column layout shared by the SQL backends.
type row struct {
	id         string
	kind       string
	message    string
	attachment *string
	createdAt  int64 // unix milli
	sent       int
	failed     int
	results    string
}

func toRow(rec dispatch.Record) (row, error) {
	b, err := json.Marshal(rec.Results)
	if err != nil {
		return row{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	sent, failed := rec.Summary()
	r := row{
		id:        rec.ID,
		kind:      string(rec.Kind),
		message:   rec.Message,
		createdAt: rec.CreatedAt.UnixMilli(),
		sent:      sent,
		failed:    failed,
		results:   string(b),
	}
	if rec.Attachment != "" {
		a := rec.Attachment
		r.attachment = &a
	}
	return r, nil
}

func (r row) record() (dispatch.Record, error) {
	rec := dispatch.Record{
		ID:        r.id,
		Kind:      dispatch.Kind(r.kind),
		Message:   r.message,
		CreatedAt: time.UnixMilli(r.createdAt),
	}
	if r.attachment != nil {
		rec.Attachment = *r.attachment
	}
	if err := json.Unmarshal([]byte(r.results), &rec.Results); err != nil {
		return dispatch.Record{}, err
	}
	return rec, nil
}

const selectColumns = `id, kind, message, attachment, created_at, sent, failed, results`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (dispatch.Record, error) {
	var r row
	if err := sc.Scan(&r.id, &r.kind, &r.message, &r.attachment, &r.createdAt, &r.sent, &r.failed, &r.results); err != nil {
		return dispatch.Record{}, err
	}
	return r.record()
}
