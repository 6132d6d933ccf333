package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosight/gosight/signals/internal/models"
)

// selectQuery assembles a read over one table. Conditions are ANDed and
// bound positionally.
type selectQuery struct {
	columns string
	table   string
	tsCol   string
	where   []string
	args    []interface{}
	limit   int
}

func newSelect(table, columns, tsCol, projectID string, tr models.TimeRange) *selectQuery {
	q := &selectQuery{columns: columns, table: table, tsCol: tsCol}
	q.and("project_id = ?", projectID)
	if tr.From > 0 {
		q.and(tsCol+" >= ?", time.UnixMilli(tr.From))
	}
	if tr.To > 0 {
		q.and(tsCol+" <= ?", time.UnixMilli(tr.To))
	}
	return q
}

func (q *selectQuery) and(cond string, arg interface{}) {
	q.where = append(q.where, cond)
	q.args = append(q.args, arg)
}

func (q *selectQuery) andIf(ok bool, cond string, arg interface{}) {
	if ok {
		q.and(cond, arg)
	}
}

// build orders newest first so a LIMIT keeps the most recent rows.
func (q *selectQuery) build() (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s ORDER BY %s DESC",
		q.columns, q.table, strings.Join(q.where, " AND "), q.tsCol)
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String(), q.args
}

func eventsQuery(projectID string, tr models.TimeRange, f models.Filters) (string, []interface{}) {
	q := newSelect("events",
		"session_id, project_id, event_type, timestamp, page_url, device_type, viewport_width, viewport_height, payload",
		"timestamp", projectID, tr)
	q.andIf(f.PageURL != "", "page_url = ?", f.PageURL)
	q.andIf(f.EventType != "", "event_type = ?", string(f.EventType))
	q.andIf(f.DeviceType != "", "device_type = ?", f.DeviceType)
	q.limit = f.Limit
	return q.build()
}

func webVitalsQuery(projectID string, tr models.TimeRange, f models.Filters) (string, []interface{}) {
	q := newSelect("web_vitals",
		"project_id, session_id, page_url, timestamp, lcp, cls, inp",
		"timestamp", projectID, tr)
	q.andIf(f.PageURL != "", "page_url = ?", f.PageURL)
	q.andIf(f.DeviceType != "", "device_type = ?", f.DeviceType)
	q.limit = f.Limit
	return q.build()
}

// errorsQuery ignores the device filter: the errors table does not carry it.
func errorsQuery(projectID string, tr models.TimeRange, f models.Filters) (string, []interface{}) {
	q := newSelect("errors",
		"project_id, session_id, page_url, timestamp, error_type, message, stack",
		"timestamp", projectID, tr)
	q.andIf(f.PageURL != "", "page_url = ?", f.PageURL)
	q.limit = f.Limit
	return q.build()
}

func sessionsQuery(projectID string, tr models.TimeRange, f models.Filters) (string, []interface{}) {
	q := newSelect("sessions FINAL",
		"session_id, started_at, browser, os, device_type, country, city, entry_page",
		"started_at", projectID, tr)
	q.andIf(f.DeviceType != "", "device_type = ?", f.DeviceType)
	q.andIf(f.PageURL != "", "entry_page = ?", f.PageURL)
	q.limit = f.Limit
	return q.build()
}
