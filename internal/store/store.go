// Package store is the durable side of the workflow: one flat
// student_submissions table whose answer/feedback/guideline columns are
// generated from the configured question count.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"scigrader/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"
)

// PersistenceError wraps a failed durable write. The write is not retried;
// the graded feedback stays visible to the user regardless.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist record: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store wraps the submissions database.
type Store struct {
	db       *sql.DB
	driver   string
	n        int
	saveStmt string
}

// New opens the database at dsn and prepares the schema for numQuestions
// answers per submission. A postgres:// or postgresql:// DSN selects the pgx
// driver; anything else is treated as a sqlite path. Pass numQuestions 0 to
// open an existing database read-side only (export), taking N from the
// stored metadata.
func New(dsn string, numQuestions int) (*Store, error) {
	driver, dataSource := resolveDriver(dsn)
	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dataSource == ":memory:" {
		// Every in-memory sqlite connection is a separate database; keep
		// the pool at one connection so all queries see the same tables.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, driver: driver, n: numQuestions}
	if numQuestions > 0 {
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if err := s.checkQuestionCount(); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		stored, err := s.storedQuestionCount()
		if err != nil {
			db.Close()
			return nil, err
		}
		s.n = stored
	}
	s.saveStmt = s.buildInsert()
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// NumQuestions returns the question count the schema was built for.
func (s *Store) NumQuestions() int { return s.n }

func resolveDriver(dsn string) (driver, dataSource string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx", dsn
	}
	if dsn == ":memory:" {
		return "sqlite", dsn
	}
	return "sqlite", dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// ph returns the i-th (1-based) placeholder for the active driver.
func (s *Store) ph(i int) string {
	if s.driver == "pgx" {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (s *Store) migrate() error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	tsType := "DATETIME"
	if s.driver == "pgx" {
		idCol = "id BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}

	var cols strings.Builder
	cols.WriteString(idCol + ",\n\t\tstudent_id TEXT NOT NULL")
	for _, prefix := range []string{"answer", "feedback", "guideline"} {
		for i := 1; i <= s.n; i++ {
			fmt.Fprintf(&cols, ",\n\t\t%s_%d TEXT NOT NULL DEFAULT ''", prefix, i)
		}
	}
	cols.WriteString(",\n\t\tmodel TEXT NOT NULL,\n\t\tcreated_at " + tsType + " NOT NULL")

	statements := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS student_submissions (\n\t\t%s\n\t)", cols.String()),
		`CREATE TABLE IF NOT EXISTS submission_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// checkQuestionCount refuses to run against a store created for a different
// N: the column layout would not line up.
func (s *Store) checkQuestionCount() error {
	stored, err := s.GetMetadata("num_questions")
	if err != nil {
		return err
	}
	if stored == "" {
		return s.SetMetadata("num_questions", strconv.Itoa(s.n))
	}
	if stored != strconv.Itoa(s.n) {
		return fmt.Errorf("database was created for %s questions, configured for %d", stored, s.n)
	}
	return nil
}

func (s *Store) storedQuestionCount() (int, error) {
	stored, err := s.GetMetadata("num_questions")
	if err != nil {
		return 0, err
	}
	if stored == "" {
		return 0, fmt.Errorf("database has no recorded question count; run serve first")
	}
	n, err := strconv.Atoi(stored)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid recorded question count %q", stored)
	}
	return n, nil
}

// SetMetadata upserts a key-value pair.
func (s *Store) SetMetadata(key, value string) error {
	query := fmt.Sprintf(
		`INSERT INTO submission_metadata (key, value) VALUES (%s, %s)
		 ON CONFLICT(key) DO UPDATE SET value = %s`,
		s.ph(1), s.ph(2), s.ph(3),
	)
	args := []any{key, value, value}
	if s.driver == "pgx" {
		// Postgres upsert references the excluded row instead of a third arg.
		query = fmt.Sprintf(
			`INSERT INTO submission_metadata (key, value) VALUES (%s, %s)
			 ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value`,
			s.ph(1), s.ph(2),
		)
		args = []any{key, value}
	}
	_, err := s.db.Exec(query, args...)
	return err
}

// GetMetadata returns the value for a key, or "" when the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM submission_metadata WHERE key = `+s.ph(1), key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) buildInsert() string {
	cols := []string{"student_id"}
	for _, prefix := range []string{"answer", "feedback", "guideline"} {
		for i := 1; i <= s.n; i++ {
			cols = append(cols, fmt.Sprintf("%s_%d", prefix, i))
		}
	}
	cols = append(cols, "model", "created_at")

	phs := make([]string, len(cols))
	for i := range cols {
		phs[i] = s.ph(i + 1)
	}
	return fmt.Sprintf(
		`INSERT INTO student_submissions (%s) VALUES (%s)`,
		strings.Join(cols, ", "), strings.Join(phs, ", "),
	)
}

// SaveRecord writes one graded record in a single statement. The write is
// attempted exactly once; there is no content deduplication here.
func (s *Store) SaveRecord(ctx context.Context, rec model.GradedRecord) error {
	if len(rec.Answers) != s.n || len(rec.Feedback) != s.n {
		return &PersistenceError{Err: fmt.Errorf(
			"record has %d answers and %d feedback items, schema expects %d",
			len(rec.Answers), len(rec.Feedback), s.n)}
	}

	args := make([]any, 0, 3*s.n+3)
	args = append(args, rec.StudentID)
	for _, a := range rec.Answers {
		args = append(args, a)
	}
	for _, f := range rec.Feedback {
		args = append(args, f.Line())
	}
	for _, f := range rec.Feedback {
		args = append(args, f.Guideline)
	}
	args = append(args, rec.Model, rec.CreatedAt)

	if _, err := s.db.ExecContext(ctx, s.saveStmt, args...); err != nil {
		return &PersistenceError{Err: err}
	}
	return nil
}

// LatestByStudent returns the most recent persisted record for a student id,
// or nil when none exists.
func (s *Store) LatestByStudent(ctx context.Context, studentID string) (*model.PersistedRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM student_submissions WHERE student_id = %s ORDER BY created_at DESC, id DESC LIMIT 1`,
		s.selectColumns(), s.ph(1),
	)
	row := s.db.QueryRowContext(ctx, query, studentID)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) selectColumns() string {
	cols := []string{"id", "student_id"}
	for _, prefix := range []string{"answer", "feedback", "guideline"} {
		for i := 1; i <= s.n; i++ {
			cols = append(cols, fmt.Sprintf("%s_%d", prefix, i))
		}
	}
	cols = append(cols, "model", "created_at")
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row rowScanner) (*model.PersistedRecord, error) {
	rec := model.PersistedRecord{
		Answers:    make([]string, s.n),
		Feedback:   make([]string, s.n),
		Guidelines: make([]string, s.n),
	}
	dest := make([]any, 0, 3*s.n+4)
	dest = append(dest, &rec.ID, &rec.StudentID)
	for i := 0; i < s.n; i++ {
		dest = append(dest, &rec.Answers[i])
	}
	for i := 0; i < s.n; i++ {
		dest = append(dest, &rec.Feedback[i])
	}
	for i := 0; i < s.n; i++ {
		dest = append(dest, &rec.Guidelines[i])
	}
	dest = append(dest, &rec.Model, &rec.CreatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &rec, nil
}
