package model

import "time"

// WindowStatus represents the outcome of importing a single window.
type WindowStatus string

const (
	WindowSucceeded WindowStatus = "succeeded"
	WindowFailed    WindowStatus = "failed"
	WindowSkipped   WindowStatus = "skipped"
)

// ImportOutcome holds the per-window result of an import run.
type ImportOutcome struct {
	Window         Window       `json:"window"`
	Status         WindowStatus `json:"status"`
	RecordsFetched int          `json:"records_fetched"`
	RecordsDropped int          `json:"records_dropped,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// ImportSummary aggregates the outcomes of one import run across all windows.
type ImportSummary struct {
	RunID        string          `json:"run_id"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	TotalWindows int             `json:"total_windows"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	Skipped      int             `json:"skipped,omitempty"`
	RecordsTotal int64           `json:"records_total"`
	DroppedTotal int             `json:"dropped_total,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	Elapsed      time.Duration   `json:"elapsed"`
	Outcomes     []ImportOutcome `json:"outcomes"`
}

// FailedWindows returns the windows that did not import, in plan order.
// Re-running just these is safe because upserts are idempotent.
func (s *ImportSummary) FailedWindows() []Window {
	var out []Window
	for _, o := range s.Outcomes {
		if o.Status == WindowFailed {
			out = append(out, o.Window)
		}
	}
	return out
}

// ImportStatus labels the lifecycle state of a logged import run.
type ImportStatus string

const (
	ImportRunning  ImportStatus = "running"
	ImportComplete ImportStatus = "complete"
	ImportPartial  ImportStatus = "partial"
	ImportFailed   ImportStatus = "failed"
)

// ImportRecord is the persisted import_log row for one run.
type ImportRecord struct {
	RunID         string       `json:"run_id"`
	RangeStart    time.Time    `json:"range_start"`
	RangeEnd      time.Time    `json:"range_end"`
	Status        ImportStatus `json:"status"`
	TotalWindows  int          `json:"total_windows"`
	Succeeded     int          `json:"succeeded"`
	Failed        int          `json:"failed"`
	Skipped       int          `json:"skipped,omitempty"`
	RecordsTotal  int64        `json:"records_total"`
	DroppedTotal  int          `json:"dropped_total,omitempty"`
	FailedWindows []Window     `json:"failed_windows,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
}

// Record converts the summary to its persisted form. Every window imported
// means complete; nothing imported and something failed means failed; any
// other shortfall, including cancelled windows, means partial.
func (s *ImportSummary) Record() ImportRecord {
	status := ImportComplete
	switch {
	case s.Failed > 0 && s.Succeeded == 0:
		status = ImportFailed
	case s.Failed > 0 || s.Skipped > 0:
		status = ImportPartial
	}
	return ImportRecord{
		RunID:         s.RunID,
		RangeStart:    s.Start,
		RangeEnd:      s.End,
		Status:        status,
		TotalWindows:  s.TotalWindows,
		Succeeded:     s.Succeeded,
		Failed:        s.Failed,
		Skipped:       s.Skipped,
		RecordsTotal:  s.RecordsTotal,
		DroppedTotal:  s.DroppedTotal,
		FailedWindows: s.FailedWindows(),
		StartedAt:     s.StartedAt,
		FinishedAt:    s.StartedAt.Add(s.Elapsed),
	}
}
