package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/yairfalse/arbiter/analyzer"
	"github.com/yairfalse/arbiter/types"
)

// RecommendationHeader is the column order of the recommendations export
var RecommendationHeader = []string{
	"department", "title", "role", "user_count", "total_users",
	"percentage", "status", "recommendation",
}

// ActionHeader is the column order of the actionable export
var ActionHeader = []string{
	"action_type", "priority", "department", "title", "role", "username",
	"current_status", "recommended_action", "business_justification_required",
	"percentage_compliance", "affected_users", "implementation_notes",
}

const adhocRecommendation = "Review individual assignments - consider removal or document justification"

// WriteRecommendationsCSV writes one row per (group, role), roles ordered by percentage
func WriteRecommendationsCSV(w io.Writer, result *analyzer.Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(RecommendationHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if result != nil {
		for _, g := range result.Groups {
			for _, rc := range g.RoleAnalysis {
				if err := cw.Write(recommendationRow(g, rc)); err != nil {
					return fmt.Errorf("write row %s/%s: %w", g.Key(), rc.Role, err)
				}
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func recommendationRow(g analyzer.GroupAnalysis, rc analyzer.RoleClassification) []string {
	status := "Ad-hoc"
	recommendation := adhocRecommendation
	if rc.IsStandard {
		status = "Standard"
		recommendation = fmt.Sprintf("Apply to all %ss in %s", g.Title, g.Department)
	}

	return []string{
		g.Department,
		g.Title,
		rc.Role,
		strconv.Itoa(rc.Count),
		strconv.Itoa(g.TotalUsers),
		fmt.Sprintf("%.1f", rc.Percentage),
		status,
		recommendation,
	}
}

// WriteActionsCSV writes the actionable work queue, one row per action
func WriteActionsCSV(w io.Writer, actions []types.RemediationAction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(ActionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i := range actions {
		if err := cw.Write(actionRow(&actions[i])); err != nil {
			return fmt.Errorf("write action %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func actionRow(a *types.RemediationAction) []string {
	return []string{
		string(a.ActionType),
		string(a.Priority),
		a.Department,
		a.Title,
		a.Role,
		a.Username,
		a.CurrentStatus,
		a.RecommendedAction,
		a.JustificationLabel(),
		a.ComplianceLabel(),
		a.AffectedUsers,
		a.ImplementationNotes,
	}
}
