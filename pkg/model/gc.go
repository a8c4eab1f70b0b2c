package model

import (
	"fmt"
	"time"
)

// GCPlan is the output of the gc plan phase.
type GCPlan struct {
	PlanID               string          `json:"plan_id"`
	CreatedAt            time.Time       `json:"created_at"`
	Location             MountType       `json:"location,omitempty"`
	Protected            []string        `json:"protected"`
	ProtectedByRetention int             `json:"protected_by_retention"`
	ProtectedByBoot      int             `json:"protected_by_boot"`
	CandidateCount       int             `json:"candidate_count"`
	ToDelete             []string        `json:"to_delete"`
	DeletableBytes       int64           `json:"deletable_bytes"`
	RetentionPolicy      RetentionPolicy `json:"retention_policy"`
}

// DefaultRetentionPolicy returns the default retention policy.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		KeepMinStates: 10,
		KeepMinAge:    7 * 24 * time.Hour,
	}
}

// RetentionPolicy configures which old-state directories to keep.
// A state is kept if it matches any rule:
// - among the KeepMinStates most recent states
// - younger than KeepMinAge
// - the state the system was booted into
type RetentionPolicy struct {
	KeepMinStates int           `json:"keep_min_states"`
	KeepMinAge    time.Duration `json:"keep_min_age"`
}

// Validate checks the policy.
func (rp *RetentionPolicy) Validate() error {
	if rp.KeepMinStates < 0 {
		return &InvalidRetentionPolicyError{Field: "keep_min_states", Reason: "must be non-negative", Value: rp.KeepMinStates}
	}
	if rp.KeepMinAge < 0 {
		return &InvalidRetentionPolicyError{Field: "keep_min_age", Reason: "must be non-negative", Value: rp.KeepMinAge}
	}
	return nil
}

// InvalidRetentionPolicyError is returned when a retention policy is invalid.
type InvalidRetentionPolicyError struct {
	Field  string
	Reason string
	Value  any
}

func (e *InvalidRetentionPolicyError) Error() string {
	return fmt.Sprintf("invalid retention policy: %s %s (got: %v)", e.Field, e.Reason, e.Value)
}
