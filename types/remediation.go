package types

import (
	"fmt"
)

// ActionType categorizes a remediation recommendation.
// Actions are RECOMMENDATIONS only; nothing here changes access in a source system.
type ActionType string

const (
	ActionGrantAccess  ActionType = "GRANT_ACCESS"
	ActionReviewAccess ActionType = "REVIEW_ACCESS"
	ActionNoAction     ActionType = "NO_ACTION"
	ActionInvestigate  ActionType = "INVESTIGATE"
)

// Priority ranks how urgently an action should be worked
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
	PriorityInfo   Priority = "INFO"
)

// Rank orders priorities from most to least urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Current status values reported on an action
const (
	StatusMissingStandardRole = "MISSING_STANDARD_ROLE"
	StatusHasAdhocRole        = "HAS_ADHOC_ROLE"
	StatusCompliant           = "COMPLIANT"
	StatusNoRolesDefined      = "NO_ROLES_DEFINED"
)

// Sentinels for group-level actions
const (
	GroupUsername   = "N/A"
	RoleAllRoles    = "ALL_ROLES"
	RoleNoRolesSlot = "NO_ROLES"
)

// RemediationAction is one recommended change to bring a user or group in line with its peers
type RemediationAction struct {
	ActionType                    ActionType `json:"action_type" yaml:"action_type"`
	Priority                      Priority   `json:"priority" yaml:"priority"`
	Department                    string     `json:"department" yaml:"department"`
	Title                         string     `json:"title" yaml:"title"`
	Role                          string     `json:"role" yaml:"role"`
	Username                      string     `json:"username" yaml:"username"`
	CurrentStatus                 string     `json:"current_status" yaml:"current_status"`
	RecommendedAction             string     `json:"recommended_action" yaml:"recommended_action"`
	BusinessJustificationRequired bool       `json:"business_justification_required" yaml:"business_justification_required"`
	PercentageCompliance          float64    `json:"percentage_compliance" yaml:"percentage_compliance"`
	AffectedUsers                 string     `json:"affected_users" yaml:"affected_users"`
	ImplementationNotes           string     `json:"implementation_notes" yaml:"implementation_notes"`
	PolicyFlags                   []string   `json:"policy_flags,omitempty" yaml:"policy_flags,omitempty"`
}

// Validate ensures the action has required fields
func (a *RemediationAction) Validate() error {
	if a.ActionType == "" {
		return fmt.Errorf("action type cannot be empty")
	}
	if a.Role == "" {
		return fmt.Errorf("action role cannot be empty")
	}
	if a.Username == "" {
		return fmt.Errorf("action username cannot be empty")
	}
	return nil
}

// IsGroupLevel reports whether the action targets a whole peer group
func (a *RemediationAction) IsGroupLevel() bool {
	return a.Username == GroupUsername
}

// JustificationLabel renders the justification flag the way exports expect it
func (a *RemediationAction) JustificationLabel() string {
	if a.BusinessJustificationRequired {
		return "YES"
	}
	return "NO"
}

// ComplianceLabel renders the compliance percentage with one decimal
func (a *RemediationAction) ComplianceLabel() string {
	return fmt.Sprintf("%.1f%%", a.PercentageCompliance)
}
