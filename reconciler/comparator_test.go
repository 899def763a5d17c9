package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/arbiter/storage"
)

func snap(dept, title string, standard, adhoc []string) storage.GroupSnapshot {
	return storage.GroupSnapshot{Department: dept, Title: title, TotalUsers: 2, StandardRoles: standard, AdhocRoles: adhoc}
}

func TestSimpleComparator_Compare(t *testing.T) {
	tests := []struct {
		name     string
		previous []storage.GroupSnapshot
		current  []storage.GroupSnapshot
		want     []Diff
	}{
		{
			name:     "identical runs",
			previous: []storage.GroupSnapshot{snap("IT", "Eng", []string{"Git"}, []string{"Prod"})},
			current:  []storage.GroupSnapshot{snap("IT", "Eng", []string{"Git"}, []string{"Prod"})},
			want:     nil,
		},
		{
			name:    "first run",
			current: []storage.GroupSnapshot{snap("IT", "Eng", []string{"Git"}, []string{"Prod"})},
			want: []Diff{{
				Type: DiffNewGroup, Department: "IT", Title: "Eng",
				Added: []string{"Git", "Prod"}, Reason: "Peer group first seen with 2 users",
			}},
		},
		{
			name:     "group removed",
			previous: []storage.GroupSnapshot{snap("HR", "Partner", nil, nil)},
			want: []Diff{{
				Type: DiffRemovedGroup, Department: "HR", Title: "Partner",
				Reason: "Peer group no longer present in the export",
			}},
		},
		{
			name:     "role order does not matter",
			previous: []storage.GroupSnapshot{snap("IT", "Eng", []string{"Git", "Jira"}, nil)},
			current:  []storage.GroupSnapshot{snap("IT", "Eng", []string{"Jira", "Git"}, nil)},
			want:     nil,
		},
		{
			name:     "ad-hoc role appears",
			previous: []storage.GroupSnapshot{snap("IT", "Eng", []string{"Git"}, nil)},
			current:  []storage.GroupSnapshot{snap("IT", "Eng", []string{"Git"}, []string{"Prod", "Billing"})},
			want: []Diff{{
				Type: DiffAdhocChanged, Department: "IT", Title: "Eng",
				Added: []string{"Billing", "Prod"}, Reason: "Ad-hoc role set changed",
			}},
		},
	}

	c := NewSimpleComparator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Compare(tt.previous, tt.current))
		})
	}
}

func TestSimpleComparator_SortedByPeerKey(t *testing.T) {
	current := []storage.GroupSnapshot{
		snap("Sales", "Rep", nil, nil),
		snap("Finance", "Analyst", nil, nil),
		snap("Finance", "Accountant", nil, nil),
	}

	diffs := NewSimpleComparator().Compare(nil, current)
	assert.Len(t, diffs, 3)
	assert.Equal(t, "Accountant", diffs[0].Title)
	assert.Equal(t, "Analyst", diffs[1].Title)
	assert.Equal(t, "Sales", diffs[2].Department)
}

func TestDiff_Severity(t *testing.T) {
	tests := []struct {
		diff Diff
		want string
	}{
		{Diff{Type: DiffNewGroup}, "low"},
		{Diff{Type: DiffRemovedGroup}, "low"},
		{Diff{Type: DiffStandardChanged}, "medium"},
		{Diff{Type: DiffAdhocChanged, Added: []string{"x"}}, "high"},
		{Diff{Type: DiffAdhocChanged, Removed: []string{"x"}}, "low"},
	}

	for _, tt := range tests {
		t.Run(string(tt.diff.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.diff.Severity())
		})
	}
}
