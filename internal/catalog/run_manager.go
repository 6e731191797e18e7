package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/timeutil"
)

// Run statuses.
const (
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithIssues = "completed_with_issues"
	StatusFailed              = "failed"
)

// ErrNoActiveRun is returned when a record call arrives with no run started.
var ErrNoActiveRun = errors.New("no active catalog run")

// RunManager coordinates the lifecycle of one stage run at a time. It is
// safe for concurrent use.
type RunManager struct {
	mu         sync.RWMutex
	cat        *Catalog
	clock      timeutil.Clock
	currentRun *Run
	startTime  time.Time
}

// NewRunManager creates a manager writing to cat. A nil clock uses the
// wall clock.
func NewRunManager(cat *Catalog, clock timeutil.Clock) *RunManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunManager{cat: cat, clock: clock}
}

// StartRun inserts a running row for stage and returns its id. params is
// stored as JSON.
func (m *RunManager) StartRun(stage, sourcePath, datasetRoot string, params any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun != nil {
		return "", fmt.Errorf("catalog run %s still active", m.currentRun.RunID)
	}

	paramsJSON := []byte("{}")
	if params != nil {
		var err error
		if paramsJSON, err = json.Marshal(params); err != nil {
			return "", fmt.Errorf("marshal run params: %w", err)
		}
	}

	run := &Run{
		RunID:       uuid.New().String(),
		Stage:       stage,
		SourcePath:  sourcePath,
		DatasetRoot: datasetRoot,
		ParamsJSON:  string(paramsJSON),
		Status:      StatusRunning,
		CreatedAt:   m.clock.Now(),
	}

	_, err := m.cat.db.Exec(`
		INSERT INTO runs (run_id, stage, source_path, dataset_root, params_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Stage, run.SourcePath, run.DatasetRoot, run.ParamsJSON, run.Status,
		run.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	m.currentRun = run
	m.startTime = run.CreatedAt
	logging.Diagf("[RunManager] Started %s run %s for %s", stage, run.RunID, sourcePath)
	return run.RunID, nil
}

// RecordIssue stores one issue against the active run.
func (m *RunManager) RecordIssue(issue *pipeline.Issue) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentRun == nil {
		return ErrNoActiveRun
	}
	return m.insertIssue(m.currentRun.RunID, issue)
}

func (m *RunManager) insertIssue(runID string, issue *pipeline.Issue) error {
	var index any
	if issue.Index != nil {
		index = *issue.Index
	}
	msg := ""
	if issue.Err != nil {
		msg = issue.Err.Error()
	}
	_, err := m.cat.db.Exec(`
		INSERT INTO run_issues (run_id, stage, kind, path, timestamp, frame_index, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, issue.Stage, issue.KindName(), issue.Path, issue.Timestamp, index, msg)
	if err != nil {
		return fmt.Errorf("insert run issue: %w", err)
	}
	return nil
}

// RecordFrame upserts the frame row for a written frame. The human point
// count is only replaced by labeled summaries.
func (m *RunManager) RecordFrame(frame pipeline.FrameSummary) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentRun == nil {
		return ErrNoActiveRun
	}
	return m.upsertFrame(m.currentRun.RunID, frame)
}

func (m *RunManager) upsertFrame(runID string, frame pipeline.FrameSummary) error {
	var human any
	if frame.Labeled {
		human = frame.HumanPoints
	}
	_, err := m.cat.db.Exec(`
		INSERT INTO frames (dataset_root, timestamp, points, human_points, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset_root, timestamp) DO UPDATE SET
			points = excluded.points,
			human_points = COALESCE(excluded.human_points, frames.human_points),
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at`,
		frame.Root, frame.Timestamp, frame.Points, human, runID, m.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert frame %s/%s: %w", frame.Root, frame.Timestamp, err)
	}
	return nil
}

// CompleteRun stores the result's counters, issues, and frames, and closes
// the active run. The status reflects whether any issue was reported.
func (m *RunManager) CompleteRun(res *pipeline.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return nil
	}
	runID := m.currentRun.RunID

	for _, issue := range res.Issues {
		if err := m.insertIssue(runID, issue); err != nil {
			return err
		}
	}
	for _, frame := range res.Frames {
		if err := m.upsertFrame(runID, frame); err != nil {
			return err
		}
	}

	status := StatusCompleted
	if res.HasIssues() {
		status = StatusCompletedWithIssues
	}
	now := m.clock.Now()
	_, err := m.cat.db.Exec(`
		UPDATE runs SET status = ?, frames_written = ?, frames_skipped = ?, points_written = ?,
			points_dropped = ?, figures_applied = ?, figures_skipped = ?, issue_count = ?, completed_at = ?
		WHERE run_id = ?`,
		status, res.FramesWritten, res.FramesSkipped, res.PointsWritten, res.PointsDropped,
		res.FiguresApplied, res.FiguresSkipped, len(res.Issues), now.UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}

	logging.Diagf("[RunManager] Completed run %s: %d frames, %d issues in %s",
		runID, res.FramesWritten, len(res.Issues), m.clock.Since(m.startTime))
	m.currentRun = nil
	return nil
}

// FailRun marks the active run as failed with errMsg.
func (m *RunManager) FailRun(errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return nil
	}
	runID := m.currentRun.RunID
	_, err := m.cat.db.Exec(`UPDATE runs SET status = ?, error_message = ?, completed_at = ? WHERE run_id = ?`,
		StatusFailed, errMsg, m.clock.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("fail run %s: %w", runID, err)
	}

	logging.Opsf("[RunManager] Failed run %s: %s", runID, errMsg)
	m.currentRun = nil
	return nil
}

// IsRunActive reports whether a run is in progress.
func (m *RunManager) IsRunActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentRun != nil
}

// CurrentRunID returns the active run id, or "" when idle.
func (m *RunManager) CurrentRunID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentRun == nil {
		return ""
	}
	return m.currentRun.RunID
}
