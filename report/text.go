// Package report renders analysis results and remediation plans for people and spreadsheets.
package report

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/yairfalse/arbiter/analyzer"
)

const (
	summaryRule = 80
	groupRule   = 60
	roleColumn  = 40
)

// NoResultsMessage is printed in place of a report when nothing was analyzed
const NoResultsMessage = "No analysis results available."

// WriteSummary writes the run-wide summary block
func WriteSummary(w io.Writer, result *analyzer.Result) error {
	p := &printer{w: w}

	if result == nil || result.IsEmpty() {
		p.line(NoResultsMessage)
		return p.err
	}

	s := result.Summary
	p.line("")
	p.line(strings.Repeat("=", summaryRule))
	p.line("ACCESS REVIEW ANALYSIS SUMMARY")
	p.line(strings.Repeat("=", summaryRule))
	p.linef("Threshold for standard roles: %d%%", result.Threshold)
	p.linef("Total users analyzed: %d", s.TotalUsers)
	p.linef("Total department/title groups: %d", s.TotalGroups)
	p.linef("Groups with standard roles only: %d", s.GroupsStandardOnly)
	p.linef("Groups requiring review (have ad-hoc roles): %d", s.GroupsWithAdhoc)
	p.linef("Compliance rate: %.1f%%", s.ComplianceRate)
	p.linef("Total standard role assignments: %d", s.TotalStandardRoles)
	p.linef("Total ad-hoc role assignments: %d", s.TotalAdhocRoles)
	p.line(strings.Repeat("=", summaryRule))

	return p.err
}

// WriteDetailed writes the per-group breakdown
func WriteDetailed(w io.Writer, result *analyzer.Result) error {
	p := &printer{w: w}

	if result == nil || result.IsEmpty() {
		p.line(NoResultsMessage)
		return p.err
	}

	for _, g := range result.Groups {
		writeGroup(p, g, result.Threshold)
	}

	return p.err
}

// WriteText writes the summary followed by the detailed breakdown
func WriteText(w io.Writer, result *analyzer.Result) error {
	if err := WriteSummary(w, result); err != nil {
		return err
	}
	if result == nil || result.IsEmpty() {
		return nil
	}
	return WriteDetailed(w, result)
}

func writeGroup(p *printer, g analyzer.GroupAnalysis, threshold int) {
	p.line("")
	p.line(strings.Repeat("=", groupRule))
	p.linef("DEPARTMENT: %s | TITLE: %s", g.Department, g.Title)
	p.line(strings.Repeat("=", groupRule))
	p.linef("Total users: %d", g.TotalUsers)

	if g.HasAdhocAssignments {
		p.line("⚠️  STATUS: REQUIRES REVIEW (has ad-hoc role assignments)")
	} else {
		p.line("✅ STATUS: COMPLIANT (standard roles only)")
	}

	p.linef("\n🟢 STANDARD ROLES (≥%d%%):", threshold)
	if len(g.StandardRoles) > 0 {
		for _, rc := range g.StandardRoles {
			p.line(roleLine(rc, g.TotalUsers))
		}
		p.linef("\n   📝 RECOMMENDATION: Apply these %d roles to ALL", len(g.StandardRoles))
		p.linef("      %ss in %s department", g.Title, g.Department)
	} else {
		p.line("   (No standard roles identified)")
	}

	p.linef("\n🟡 AD-HOC ROLES (<%d%%):", threshold)
	if len(g.AdhocRoles) > 0 {
		for _, rc := range g.AdhocRoles {
			p.line(roleLine(rc, g.TotalUsers))
		}
		p.linef("\n   ⚠️  ACTION REQUIRED: Review %d ad-hoc role assignments", len(g.AdhocRoles))
		p.line("      Consider role removal or document business justification")
	} else {
		p.line("   (No ad-hoc roles found)")
	}
}

// roleLine renders "   • Role....... count/total (pct%)"
func roleLine(rc analyzer.RoleClassification, total int) string {
	return fmt.Sprintf("   • %s %3d/%-3d (%5.1f%%)", padDots(rc.Role, roleColumn), rc.Count, total, rc.Percentage)
}

// padDots left-aligns s in a field of width runes, filling with dots
func padDots(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(".", width-n)
}

// printer remembers the first write error so callers check once
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

func (p *printer) linef(format string, args ...interface{}) {
	p.line(fmt.Sprintf(format, args...))
}
