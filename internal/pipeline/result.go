package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
)

// Exit codes returned by ExitCode.
const (
	ExitClean  = 0
	ExitFatal  = 1
	ExitIssues = 2
)

// FrameSummary describes one frame a stage finished writing.
type FrameSummary struct {
	Root        string
	Timestamp   string
	Points      int
	HumanPoints int

	// Labeled is set when HumanPoints was counted from a fresh segment.
	Labeled bool
}

// Result accumulates the outcome of one stage run. Individual issues are
// never fatal; they are logged as they arrive and summarised at the end.
type Result struct {
	mu sync.Mutex

	Stage          string
	FramesWritten  int
	FramesSkipped  int
	RecordsSeen    int
	RecordsIgnored int
	PointsWritten  int
	PointsDropped  int
	FiguresApplied int
	FiguresSkipped int
	Issues         []*Issue
	Frames         []FrameSummary
}

// NewResult creates an empty result for the named stage.
func NewResult(stage string) *Result {
	return &Result{Stage: stage}
}

// FrameDone records a written frame.
func (r *Result) FrameDone(frame FrameSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FramesWritten++
	r.PointsWritten += frame.Points
	r.Frames = append(r.Frames, frame)
}

// Report records an issue and logs it to the ops stream.
func (r *Result) Report(issue *Issue) {
	if issue.Stage == "" {
		issue.Stage = r.Stage
	}
	r.mu.Lock()
	r.Issues = append(r.Issues, issue)
	r.mu.Unlock()

	logging.Warnf("%v", issue)
}

// Reportf is a convenience wrapper building an Issue from a kind and a message.
func (r *Result) Reportf(kind error, path, timestamp string, format string, args ...interface{}) {
	r.Report(&Issue{Kind: kind, Path: path, Timestamp: timestamp, Err: fmt.Errorf(format, args...)})
}

// HasIssues reports whether any issue was recorded.
func (r *Result) HasIssues() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Issues) > 0
}

// Err combines all issues into a single error, or nil for a clean run.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, issue := range r.Issues {
		err = multierr.Append(err, issue)
	}
	return err
}

// ExitCode maps the result to a process exit status: 0 for a clean run,
// 2 when the run completed with reported issues.
func (r *Result) ExitCode() int {
	if r.HasIssues() {
		return ExitIssues
	}
	return ExitClean
}

// Merge folds other into r. Counters are summed and issues and frames
// appended.
func (r *Result) Merge(other *Result) {
	if other == nil || other == r {
		return
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FramesWritten += other.FramesWritten
	r.FramesSkipped += other.FramesSkipped
	r.RecordsSeen += other.RecordsSeen
	r.RecordsIgnored += other.RecordsIgnored
	r.PointsWritten += other.PointsWritten
	r.PointsDropped += other.PointsDropped
	r.FiguresApplied += other.FiguresApplied
	r.FiguresSkipped += other.FiguresSkipped
	r.Issues = append(r.Issues, other.Issues...)
	r.Frames = append(r.Frames, other.Frames...)
}

// Summary returns a one-line human readable summary.
func (r *Result) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%s: frames written=%d skipped=%d, records seen=%d ignored=%d, points written=%d dropped=%d, figures applied=%d skipped=%d, issues=%d",
		r.Stage, r.FramesWritten, r.FramesSkipped, r.RecordsSeen, r.RecordsIgnored,
		r.PointsWritten, r.PointsDropped, r.FiguresApplied, r.FiguresSkipped, len(r.Issues))
}
