package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/marcus/nacre/internal/events"
	"github.com/marcus/nacre/internal/models"
	_ "modernc.org/sqlite"
)

// SQLite reads the tracker's database file directly, bypassing the CLI.
// The connection is strictly read-only: the tracker owns the file and
// nacre is a read-side projection.
type SQLite struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens the tracker database read-only.
func OpenSQLite(path string) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: tracker database %s: %v", ErrUnavailable, path, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tracker database: %w", err)
	}

	// Guard against accidental writes and tolerate the tracker holding
	// the write lock.
	if _, err := conn.Exec("PRAGMA query_only=1"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set query_only: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLite{conn: conn, path: path}, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Fetch implements Source by reading the issues, dependencies, and
// events tables in one pass.
func (s *SQLite) Fetch(ctx context.Context) (*Snapshot, error) {
	issues, err := s.fetchIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: issues: %v", ErrUnavailable, err)
	}
	deps, err := s.fetchDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dependencies: %v", ErrUnavailable, err)
	}
	records, err := s.fetchEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: events: %v", ErrUnavailable, err)
	}

	return &Snapshot{
		Issues:       issues,
		Dependencies: deps,
		Events:       events.NormalizeBatch(records),
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (s *SQLite) fetchIssues(ctx context.Context) ([]models.Issue, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, status, COALESCE(priority, ?), issue_type,
		       COALESCE(assignee, ''), COALESCE(estimate, 0),
		       created_at, updated_at, COALESCE(closed_at, '')
		FROM issues
		WHERE status != 'tombstone'
		ORDER BY id`, models.DefaultPriority)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		var is models.Issue
		var rawStatus, rawType, createdAt, updatedAt, closedAt string
		if err := rows.Scan(&is.ID, &is.Title, &rawStatus, &is.Priority, &rawType,
			&is.Assignee, &is.Estimate, &createdAt, &updatedAt, &closedAt); err != nil {
			return nil, err
		}
		is.Status = models.NormalizeStatus(rawStatus)
		is.Type = models.NormalizeType(rawType)
		if t, err := events.ParseTimestamp(createdAt); err == nil {
			is.CreatedAt = t
		}
		if t, err := events.ParseTimestamp(updatedAt); err == nil {
			is.UpdatedAt = t
		}
		if closedAt != "" {
			if t, err := events.ParseTimestamp(closedAt); err == nil {
				is.ClosedAt = &t
			}
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

func (s *SQLite) fetchDependencies(ctx context.Context) ([]models.Dependency, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, COALESCE(created_by, ''), COALESCE(created_at, '')
		FROM dependencies
		ORDER BY issue_id, depends_on_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []models.Dependency
	for rows.Next() {
		var dep models.Dependency
		var rawKind, createdAt string
		if err := rows.Scan(&dep.From, &dep.To, &rawKind, &dep.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		dep.Kind = models.NormalizeDependencyKind(rawKind)
		if createdAt != "" {
			if t, err := events.ParseTimestamp(createdAt); err == nil {
				dep.CreatedAt = &t
			}
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (s *SQLite) fetchEvents(ctx context.Context) ([]events.RawRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT issue_id, event_type, COALESCE(old_status, ''), COALESCE(new_status, ''), created_at
		FROM events
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []events.RawRecord
	for rows.Next() {
		var rec events.RawRecord
		if err := rows.Scan(&rec.IssueID, &rec.Type, &rec.OldStatus, &rec.NewStatus, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
