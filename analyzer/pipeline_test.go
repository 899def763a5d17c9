package analyzer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/arbiter/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		rows  []types.RawAccessRow
		want  map[string][]string
		order []string
	}{
		{
			name: "unions roles across rows",
			rows: []types.RawAccessRow{
				{Username: "alice", Department: "Sales", Title: "Rep", AssignedRoles: "CRM"},
				{Username: "alice", Department: "Sales", Title: "Rep", AssignedRoles: "Email, CRM"},
			},
			want:  map[string][]string{"alice": {"CRM", "Email"}},
			order: []string{"alice"},
		},
		{
			name: "empty assignment becomes sentinel",
			rows: []types.RawAccessRow{
				{Username: "dave", Department: "Ops", Title: "Tech", AssignedRoles: ""},
			},
			want:  map[string][]string{"dave": {types.NoRolesSentinel}},
			order: []string{"dave"},
		},
		{
			name: "empty row does not add sentinel when another row has roles",
			rows: []types.RawAccessRow{
				{Username: "erin", Department: "Ops", Title: "Tech", AssignedRoles: ""},
				{Username: "erin", Department: "Ops", Title: "Tech", AssignedRoles: "Shell"},
			},
			want:  map[string][]string{"erin": {"Shell"}},
			order: []string{"erin"},
		},
		{
			name: "first encounter order",
			rows: []types.RawAccessRow{
				{Username: "zed", Department: "Ops", Title: "Tech", AssignedRoles: "A"},
				{Username: "amy", Department: "Ops", Title: "Tech", AssignedRoles: "A"},
			},
			want:  map[string][]string{"zed": {"A"}, "amy": {"A"}},
			order: []string{"zed", "amy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Normalize(tt.rows, ",")

			var order []string
			for _, rec := range records {
				order = append(order, rec.Username)
				assert.Equal(t, tt.want[rec.Username], rec.Roles())
			}
			assert.Equal(t, tt.order, order)
		})
	}
}

func TestNormalize_SameUserDifferentTitles(t *testing.T) {
	rows := []types.RawAccessRow{
		{Username: "alice", Department: "Sales", Title: "Rep", AssignedRoles: "CRM"},
		{Username: "alice", Department: "Sales", Title: "Lead", AssignedRoles: "Reports"},
	}

	records := Normalize(rows, ",")
	require.Len(t, records, 2)
	assert.Equal(t, "Rep", records[0].Title)
	assert.Equal(t, "Lead", records[1].Title)
}

func TestNormalize_Idempotent(t *testing.T) {
	rows := salesRows()
	doubled := append(append([]types.RawAccessRow{}, rows...), rows...)

	once := Normalize(rows, ",")
	twice := Normalize(doubled, ",")

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Username, twice[i].Username)
		assert.Equal(t, once[i].Roles(), twice[i].Roles())
	}
}

func TestAggregate_CountsDistinctUsers(t *testing.T) {
	records := []types.UserAccessRecord{
		types.NewUserAccessRecord("alice", "Sales", "Rep", []string{"CRM", "Email"}),
		types.NewUserAccessRecord("bob", "Sales", "Rep", []string{"Email"}),
		types.NewUserAccessRecord("alice", "Sales", "Rep", []string{"CRM", "Reports"}),
	}

	groups := Aggregate(records)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, 2, g.TotalUsers())
	assert.Equal(t, 1, g.RoleCount("CRM"))
	assert.Equal(t, 2, g.RoleCount("Email"))
	assert.Equal(t, 1, g.RoleCount("Reports"))
	assert.Equal(t, []string{"CRM", "Email", "Reports"}, g.Roles())

	for _, role := range g.Roles() {
		assert.LessOrEqual(t, g.RoleCount(role), g.TotalUsers())
		assert.Greater(t, g.RoleCount(role), 0)
	}

	members := g.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username)
	assert.ElementsMatch(t, []string{"CRM", "Email", "Reports"}, members[0].Roles())
}

func TestAggregate_GroupSizeMatchesUniqueUsers(t *testing.T) {
	records := Normalize([]types.RawAccessRow{
		{Username: "a", Department: "D", Title: "T", AssignedRoles: "X"},
		{Username: "a", Department: "D", Title: "T", AssignedRoles: "Y"},
		{Username: "b", Department: "D", Title: "T", AssignedRoles: "X"},
		{Username: "c", Department: "D", Title: "U", AssignedRoles: "X"},
	}, ",")

	groups := Aggregate(records)
	require.Len(t, groups, 2)
	assert.Equal(t, 2, groups[0].TotalUsers())
	assert.Equal(t, 1, groups[1].TotalUsers())
}

func TestClassify_InclusiveBoundary(t *testing.T) {
	records := []types.UserAccessRecord{
		types.NewUserAccessRecord("u1", "D", "T", []string{"Half", "Quarter"}),
		types.NewUserAccessRecord("u2", "D", "T", []string{"Half"}),
		types.NewUserAccessRecord("u3", "D", "T", []string{"Other"}),
		types.NewUserAccessRecord("u4", "D", "T", []string{"Other"}),
	}

	g := Classify(Aggregate(records)[0], 50)

	byRole := make(map[string]RoleClassification)
	for _, rc := range g.RoleAnalysis {
		byRole[rc.Role] = rc
	}

	assert.True(t, byRole["Half"].IsStandard)
	assert.InDelta(t, 50.0, byRole["Half"].Percentage, 0.0001)
	assert.False(t, byRole["Quarter"].IsStandard)
	assert.InDelta(t, 25.0, byRole["Quarter"].Percentage, 0.0001)
}

// groupWithHolders builds a peer group of total users where holders carry "Target".
func groupWithHolders(holders, total int) *PeerGroup {
	records := make([]types.UserAccessRecord, 0, total)
	for i := 0; i < total; i++ {
		roles := []string{"Base"}
		if i < holders {
			roles = append(roles, "Target")
		}
		records = append(records, types.NewUserAccessRecord(fmt.Sprintf("u%03d", i), "D", "T", roles))
	}
	return Aggregate(records)[0]
}

func targetRole(t *testing.T, g GroupAnalysis) RoleClassification {
	t.Helper()
	for _, rc := range g.RoleAnalysis {
		if rc.Role == "Target" {
			return rc
		}
	}
	t.Fatalf("Target role missing from %s/%s", g.Department, g.Title)
	return RoleClassification{}
}

func TestClassify_ExactBoundaryIsStandard(t *testing.T) {
	tests := []struct {
		name      string
		holders   int
		total     int
		threshold int
		want      bool
	}{
		{"29 of 50 at 58", 29, 50, 58, true},
		{"29 of 100 at 29", 29, 100, 29, true},
		{"57 of 100 at 57", 57, 100, 57, true},
		{"58 of 100 at 58", 58, 100, 58, true},
		{"one short of 58", 57, 100, 58, false},
		{"2 of 3 at 67", 2, 3, 67, false},
		{"2 of 3 at 66", 2, 3, 66, true},
		{"all at 100", 7, 7, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := targetRole(t, Classify(groupWithHolders(tt.holders, tt.total), tt.threshold))
			assert.Equal(t, tt.want, rc.IsStandard)
		})
	}
}

func TestClassify_EveryWholePercentBoundary(t *testing.T) {
	for total := 1; total <= 100; total++ {
		for holders := 1; holders <= total; holders++ {
			if holders*100%total != 0 {
				continue
			}
			threshold := holders * 100 / total
			rc := targetRole(t, Classify(groupWithHolders(holders, total), threshold))
			if !rc.IsStandard {
				t.Fatalf("%d of %d at threshold %d classified ad-hoc", holders, total, threshold)
			}
		}
	}
}

func TestClassify_StableTieOrder(t *testing.T) {
	records := []types.UserAccessRecord{
		types.NewUserAccessRecord("u1", "D", "T", []string{"Zeta", "Alpha"}),
		types.NewUserAccessRecord("u2", "D", "T", []string{"Mid"}),
		types.NewUserAccessRecord("u3", "D", "T", []string{"Mid"}),
	}

	g := Classify(Aggregate(records)[0], 90)

	var roles []string
	for _, rc := range g.AdhocRoles {
		roles = append(roles, rc.Role)
	}
	assert.Equal(t, []string{"Mid", "Zeta", "Alpha"}, roles)
	assert.Empty(t, g.StandardRoles)
	assert.Len(t, g.RoleAnalysis, 3)
}

func TestClassify_ThresholdHundred(t *testing.T) {
	records := []types.UserAccessRecord{
		types.NewUserAccessRecord("u1", "D", "T", []string{"All", "Some"}),
		types.NewUserAccessRecord("u2", "D", "T", []string{"All"}),
	}

	g := Classify(Aggregate(records)[0], 100)

	require.Len(t, g.StandardRoles, 1)
	assert.Equal(t, "All", g.StandardRoles[0].Role)
	require.Len(t, g.AdhocRoles, 1)
	assert.Equal(t, "Some", g.AdhocRoles[0].Role)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}
