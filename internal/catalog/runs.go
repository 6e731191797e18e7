package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	RunID          string
	Stage          string
	SourcePath     string
	DatasetRoot    string
	ParamsJSON     string
	Status         string
	FramesWritten  int
	FramesSkipped  int
	PointsWritten  int
	PointsDropped  int
	FiguresApplied int
	FiguresSkipped int
	IssueCount     int
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
}

// RunIssue is one issue stored against a run.
type RunIssue struct {
	ID        int64
	RunID     string
	Stage     string
	Kind      string
	Path      string
	Timestamp string
	Index     *int
	Message   string
}

// FrameRecord is the latest catalog state of one dataset frame.
type FrameRecord struct {
	DatasetRoot string
	Timestamp   string
	Points      int
	HumanPoints *int
	LastRunID   string
	UpdatedAt   time.Time
}

const runColumns = `run_id, stage, COALESCE(source_path, ''), COALESCE(dataset_root, ''), params_json, status,
	frames_written, frames_skipped, points_written, points_dropped, figures_applied, figures_skipped,
	issue_count, created_at, completed_at, COALESCE(error_message, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r         Run
		created   int64
		completed sql.NullInt64
	)
	err := row.Scan(&r.RunID, &r.Stage, &r.SourcePath, &r.DatasetRoot, &r.ParamsJSON, &r.Status,
		&r.FramesWritten, &r.FramesSkipped, &r.PointsWritten, &r.PointsDropped, &r.FiguresApplied,
		&r.FiguresSkipped, &r.IssueCount, &created, &completed, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, created)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		r.CompletedAt = &t
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns
// every run.
func (c *Catalog) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a single run by id.
func (c *Catalog) GetRun(runID string) (*Run, error) {
	row := c.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// RunIssues returns the issues stored for runID in insertion order.
func (c *Catalog) RunIssues(runID string) ([]*RunIssue, error) {
	rows, err := c.db.Query(`
		SELECT issue_id, run_id, stage, kind, COALESCE(path, ''), COALESCE(timestamp, ''), frame_index, message
		FROM run_issues WHERE run_id = ? ORDER BY issue_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run issues: %w", err)
	}
	defer rows.Close()

	var issues []*RunIssue
	for rows.Next() {
		var (
			ri    RunIssue
			index sql.NullInt64
		)
		if err := rows.Scan(&ri.ID, &ri.RunID, &ri.Stage, &ri.Kind, &ri.Path, &ri.Timestamp, &index, &ri.Message); err != nil {
			return nil, fmt.Errorf("scan run issue: %w", err)
		}
		if index.Valid {
			v := int(index.Int64)
			ri.Index = &v
		}
		issues = append(issues, &ri)
	}
	return issues, rows.Err()
}

// Frames returns the catalog rows for datasetRoot ordered by timestamp text.
func (c *Catalog) Frames(datasetRoot string) ([]*FrameRecord, error) {
	rows, err := c.db.Query(`
		SELECT dataset_root, timestamp, points, human_points, last_run_id, updated_at
		FROM frames WHERE dataset_root = ? ORDER BY timestamp`, datasetRoot)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []*FrameRecord
	for rows.Next() {
		var (
			fr      FrameRecord
			human   sql.NullInt64
			updated int64
		)
		if err := rows.Scan(&fr.DatasetRoot, &fr.Timestamp, &fr.Points, &human, &fr.LastRunID, &updated); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if human.Valid {
			v := int(human.Int64)
			fr.HumanPoints = &v
		}
		fr.UpdatedAt = time.Unix(0, updated)
		frames = append(frames, &fr)
	}
	return frames, rows.Err()
}
