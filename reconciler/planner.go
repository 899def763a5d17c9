package reconciler

import (
	"fmt"

	"github.com/yairfalse/arbiter/analyzer"
	"github.com/yairfalse/arbiter/types"
)

// adhocMediumCutoff is the percentage at or above which an ad-hoc role review is MEDIUM priority
const adhocMediumCutoff = 25

// SimplePlanner turns classified peer groups into remediation actions
type SimplePlanner struct{}

// NewSimplePlanner creates a new planner
func NewSimplePlanner() *SimplePlanner {
	return &SimplePlanner{}
}

// Plan generates actions group by group: grants, then reviews, then the group summary
func (p *SimplePlanner) Plan(groups []analyzer.GroupAnalysis) []types.RemediationAction {
	var actions []types.RemediationAction

	for _, group := range groups {
		actions = append(actions, p.planGroup(group)...)
	}

	return actions
}

// planGroup plans a single peer group
func (p *SimplePlanner) planGroup(group analyzer.GroupAnalysis) []types.RemediationAction {
	var actions []types.RemediationAction

	for _, role := range group.StandardRoles {
		actions = append(actions, p.planGrants(group, role)...)
	}

	for _, role := range group.AdhocRoles {
		actions = append(actions, p.planReviews(group, role)...)
	}

	if summary := p.planSummary(group); summary != nil {
		actions = append(actions, *summary)
	}

	return actions
}

// planGrants creates a GRANT_ACCESS action for each member lacking a standard role
func (p *SimplePlanner) planGrants(group analyzer.GroupAnalysis, role analyzer.RoleClassification) []types.RemediationAction {
	var missing []string
	for _, user := range group.Users {
		if !user.HasRole(role.Role) {
			missing = append(missing, user.Username)
		}
	}

	actions := make([]types.RemediationAction, 0, len(missing))
	for _, username := range missing {
		actions = append(actions, types.RemediationAction{
			ActionType:                    types.ActionGrantAccess,
			Priority:                      types.PriorityHigh,
			Department:                    group.Department,
			Title:                         group.Title,
			Role:                          role.Role,
			Username:                      username,
			CurrentStatus:                 types.StatusMissingStandardRole,
			RecommendedAction:             fmt.Sprintf("Grant %s access", role.Role),
			BusinessJustificationRequired: false,
			PercentageCompliance:          role.Percentage,
			AffectedUsers:                 fmt.Sprintf("%d of %d", len(missing), group.TotalUsers),
			ImplementationNotes: fmt.Sprintf("Standard role for %ss in %s - %d/%d currently have this role",
				group.Title, group.Department, role.Count, group.TotalUsers),
		})
	}

	return actions
}

// planReviews creates a REVIEW_ACCESS action for each holder of an ad-hoc role
func (p *SimplePlanner) planReviews(group analyzer.GroupAnalysis, role analyzer.RoleClassification) []types.RemediationAction {
	priority := types.PriorityLow
	if role.HeldByAtLeast(adhocMediumCutoff) {
		priority = types.PriorityMedium
	}

	var actions []types.RemediationAction
	for _, user := range group.Users {
		if !user.HasRole(role.Role) {
			continue
		}

		actions = append(actions, types.RemediationAction{
			ActionType:                    types.ActionReviewAccess,
			Priority:                      priority,
			Department:                    group.Department,
			Title:                         group.Title,
			Role:                          role.Role,
			Username:                      user.Username,
			CurrentStatus:                 types.StatusHasAdhocRole,
			RecommendedAction:             "Review and document business justification OR remove access",
			BusinessJustificationRequired: true,
			PercentageCompliance:          role.Percentage,
			AffectedUsers:                 fmt.Sprintf("%d of %d", role.Count, group.TotalUsers),
			ImplementationNotes: fmt.Sprintf("Ad-hoc role - only %d/%d %ss have this role. Verify business need.",
				role.Count, group.TotalUsers, group.Title),
		})
	}

	return actions
}

// planSummary returns the group-level action, if the group warrants one
func (p *SimplePlanner) planSummary(group analyzer.GroupAnalysis) *types.RemediationAction {
	switch {
	case len(group.StandardRoles) > 0 && len(group.AdhocRoles) == 0:
		return &types.RemediationAction{
			ActionType:           types.ActionNoAction,
			Priority:             types.PriorityInfo,
			Department:           group.Department,
			Title:                group.Title,
			Role:                 types.RoleAllRoles,
			Username:             types.GroupUsername,
			CurrentStatus:        types.StatusCompliant,
			RecommendedAction:    "No action required - group is fully compliant",
			PercentageCompliance: 100.0,
			AffectedUsers:        fmt.Sprintf("All %d users", group.TotalUsers),
			ImplementationNotes: fmt.Sprintf("This group has proper role standardization with %d standard roles",
				len(group.StandardRoles)),
		}
	case len(group.StandardRoles) == 0 && len(group.AdhocRoles) == 0:
		return &types.RemediationAction{
			ActionType:                    types.ActionInvestigate,
			Priority:                      types.PriorityMedium,
			Department:                    group.Department,
			Title:                         group.Title,
			Role:                          types.RoleNoRolesSlot,
			Username:                      types.GroupUsername,
			CurrentStatus:                 types.StatusNoRolesDefined,
			RecommendedAction:             "Investigate - group has no role assignments",
			BusinessJustificationRequired: true,
			PercentageCompliance:          0.0,
			AffectedUsers:                 fmt.Sprintf("All %d users", group.TotalUsers),
			ImplementationNotes:           "No users in this group have any roles assigned - verify if this is correct",
		}
	default:
		return nil
	}
}

// ActionCounts tallies planned actions by type
type ActionCounts struct {
	Total       int `json:"total_actions" yaml:"total_actions"`
	Grant       int `json:"grant_actions" yaml:"grant_actions"`
	Review      int `json:"review_actions" yaml:"review_actions"`
	Compliant   int `json:"compliant_groups" yaml:"compliant_groups"`
	Investigate int `json:"investigate_groups" yaml:"investigate_groups"`
}

// CountActions tallies actions by type
func CountActions(actions []types.RemediationAction) ActionCounts {
	counts := ActionCounts{Total: len(actions)}
	for _, a := range actions {
		switch a.ActionType {
		case types.ActionGrantAccess:
			counts.Grant++
		case types.ActionReviewAccess:
			counts.Review++
		case types.ActionNoAction:
			counts.Compliant++
		case types.ActionInvestigate:
			counts.Investigate++
		}
	}
	return counts
}
