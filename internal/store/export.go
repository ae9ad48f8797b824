package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"scigrader/internal/model"
)

// Filter narrows a record listing. Zero values mean no filtering.
type Filter struct {
	Since           time.Time
	Until           time.Time
	StudentContains string
	ModelContains   string
	GradedOnly      bool // keep only rows whose feedback carries an O/X verdict
	Limit           int
}

// ListRecords returns persisted records newest-first.
func (s *Store) ListRecords(ctx context.Context, f Filter) ([]model.PersistedRecord, error) {
	var (
		conds []string
		args  []any
	)
	next := func() string { return s.ph(len(args)) }

	if !f.Since.IsZero() {
		args = append(args, f.Since)
		conds = append(conds, "created_at >= "+next())
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		conds = append(conds, "created_at <= "+next())
	}
	if f.StudentContains != "" {
		args = append(args, "%"+f.StudentContains+"%")
		conds = append(conds, "student_id LIKE "+next())
	}
	if f.ModelContains != "" {
		args = append(args, "%"+f.ModelContains+"%")
		conds = append(conds, "model LIKE "+next())
	}

	query := `SELECT ` + s.selectColumns() + ` FROM student_submissions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.PersistedRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if f.GradedOnly && !hasVerdict(rec.Feedback) {
			continue
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func hasVerdict(feedback []string) bool {
	for _, f := range feedback {
		if model.OXTag(f) != "" {
			return true
		}
	}
	return false
}

// CSVOptions controls the exported column set.
type CSVOptions struct {
	Location       *time.Location // display zone for created_at; nil means UTC
	WithAnswers    bool
	WithGuidelines bool
}

// WriteCSV renders records in the dashboard table layout: timestamp, student
// id, model, the feedback lines, then optionally answers and guidelines.
func (s *Store) WriteCSV(w io.Writer, records []model.PersistedRecord, opts CSVOptions) error {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cw := csv.NewWriter(w)
	header := []string{"created_at", "student_id", "model"}
	for i := 1; i <= s.n; i++ {
		header = append(header, fmt.Sprintf("feedback_%d", i))
	}
	if opts.WithAnswers {
		for i := 1; i <= s.n; i++ {
			header = append(header, fmt.Sprintf("answer_%d", i))
		}
	}
	if opts.WithGuidelines {
		for i := 1; i <= s.n; i++ {
			header = append(header, fmt.Sprintf("guideline_%d", i))
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			rec.StudentID,
			rec.Model,
		}
		row = append(row, rec.Feedback...)
		if opts.WithAnswers {
			row = append(row, rec.Answers...)
		}
		if opts.WithGuidelines {
			row = append(row, rec.Guidelines...)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
