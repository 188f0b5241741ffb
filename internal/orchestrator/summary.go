package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/listfill/internal/action"
	"github.com/xkilldash9x/listfill/internal/catalog"
	"github.com/xkilldash9x/listfill/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EntryResult is the record of one dequeued entry.
type EntryResult struct {
	Entry   catalog.Entry  `json:"entry"`
	Outcome action.Outcome `json:"outcome"`
	// Skipped is set for entries the catalog already showed as in the list.
	Skipped  bool            `json:"skipped,omitempty"`
	Attempts []action.Result `json:"-"`
	Reason   string          `json:"reason,omitempty"`
}

// AccountSummary aggregates one account's pass.
type AccountSummary struct {
	AccountID      string        `json:"account"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	TasksCompleted int           `json:"tasks_completed"`
	Added          int           `json:"added"`
	AlreadyApplied int           `json:"already_applied"`
	Failed         int           `json:"failed"`
	Entries        []EntryResult `json:"entries"`
	// Err is the account-level failure, if any.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (s *AccountSummary) add(r EntryResult) {
	s.Entries = append(s.Entries, r)
	switch r.Outcome {
	case action.Added:
		s.Added++
	case action.AlreadyApplied:
		s.AlreadyApplied++
	default:
		s.Failed++
	}
}

func (s *AccountSummary) fail(err error) {
	s.Err = err
	s.Error = err.Error()
}

// Record converts the summary into its persisted form.
func (s AccountSummary) Record(runID string) store.AccountRun {
	run := store.AccountRun{
		RunID:          runID,
		AccountID:      s.AccountID,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		TasksCompleted: s.TasksCompleted,
		Error:          s.Error,
	}
	for _, e := range s.Entries {
		run.Entries = append(run.Entries, store.EntryOutcome{
			EntryID:  e.Entry.ID,
			Title:    e.Entry.Title,
			Outcome:  e.Outcome.String(),
			Attempts: len(e.Attempts),
			Reason:   e.Reason,
		})
	}
	return run
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Accounts   []AccountSummary `json:"accounts"`
	// Swept lists diagnostic files deleted at the end of the run.
	Swept []string `json:"swept,omitempty"`
}

// WriteFile stores the summary as indented JSON at path.
func (s *RunSummary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}
