package analyzer

import (
	"github.com/yairfalse/arbiter/types"
)

// recordKey identifies one user within one peer group
type recordKey struct {
	username   string
	department string
	title      string
}

// Normalize collapses raw rows into one record per (username, department, title).
// Roles are split on delimiter, trimmed, and unioned; output keeps first-encounter order.
func Normalize(rows []types.RawAccessRow, delimiter string) []types.UserAccessRecord {
	order := make([]recordKey, 0, len(rows))
	roles := make(map[recordKey][]string, len(rows))

	for _, row := range rows {
		key := recordKey{
			username:   row.Username,
			department: row.Department,
			title:      row.Title,
		}

		if _, seen := roles[key]; !seen {
			order = append(order, key)
			roles[key] = nil
		}

		roles[key] = append(roles[key], types.SplitRoles(row.AssignedRoles, delimiter)...)
	}

	records := make([]types.UserAccessRecord, 0, len(order))
	for _, key := range order {
		records = append(records, types.NewUserAccessRecord(key.username, key.department, key.title, roles[key]))
	}

	return records
}
