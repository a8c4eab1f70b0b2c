package model

import "time"

// JournalEventType identifies the kind of journal record.
type JournalEventType string

const (
	EventTypeCommit        JournalEventType = "commit"
	EventTypeCommitFailed  JournalEventType = "commit_failed"
	EventTypeManualChange  JournalEventType = "manual_change"
	EventTypeStatePruned   JournalEventType = "state_pruned"
	EventTypeBootScriptRun JournalEventType = "boot_script_run"
)

// HashValue is a hex-encoded SHA-256 digest.
type HashValue string

// JournalRecord is a single line in a volume's journal (JSONL format).
type JournalRecord struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	EventType   JournalEventType `json:"event_type"`
	Location    MountType        `json:"location,omitempty"`
	ChangeCount int64            `json:"change_count"`
	Activated   []string         `json:"activated,omitempty"`
	Deactivated []string         `json:"deactivated,omitempty"`
	OldState    string           `json:"old_state,omitempty"`
	Error       string           `json:"error,omitempty"`
	Details     map[string]any   `json:"details,omitempty"`
	PrevHash    HashValue        `json:"prev_hash"`
	RecordHash  HashValue        `json:"record_hash"`
}
