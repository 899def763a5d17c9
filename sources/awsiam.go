package sources

import (
	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
	"github.com/yairfalse/arbiter/types"
)

// Columns of the table produced by the IAM collector
const (
	ColumnIAMUserName   = "UserName"
	ColumnIAMArn        = "Arn"
	ColumnIAMEmail      = "Email"
	ColumnIAMDepartment = "Department"
	ColumnIAMTitle      = "Title"
	ColumnIAMGroups     = "Groups"
	ColumnIAMPath       = "Path"
	iamDepartment       = "AWS"
)

// IAMColumns is the header the IAM collector writes
var IAMColumns = []string{
	ColumnIAMUserName, ColumnIAMArn, ColumnIAMPath, ColumnIAMEmail,
	ColumnIAMDepartment, ColumnIAMTitle, ColumnIAMGroups,
}

// AWSIAM treats IAM groups as roles and user tags as the peer key
type AWSIAM struct{}

func (AWSIAM) Name() string { return "aws_iam" }

func (AWSIAM) Description() string {
	return "AWS IAM users collected by collect-iam; groups are roles, Department and Title tags win over the directory"
}

func (AWSIAM) RequiredColumns() []string { return []string{ColumnIAMUserName, ColumnIAMGroups} }

func (AWSIAM) Filter([]string) *filter.Filter { return nil }

func (AWSIAM) Skip(row Row) bool { return row.Get(ColumnIAMUserName) == "" }

func (AWSIAM) Identifiers(row Row, _ []string) (string, string) {
	return row.Get(ColumnIAMUserName), row.Get(ColumnIAMEmail)
}

func (AWSIAM) Lookup(primary, backup string) []directory.Step {
	return primaryThenBackup(primary, backup)
}

func (AWSIAM) PeerKey(row Row, id Identity) (string, string) {
	entry, _ := id.Entry()
	return firstNonEmpty(row.Get(ColumnIAMDepartment), entry.Department, iamDepartment),
		firstNonEmpty(row.Get(ColumnIAMTitle), entry.Title, id.Username())
}

func (AWSIAM) ExtractRoles(row Row, _ []string) []string {
	return types.SplitRoles(row.Get(ColumnIAMGroups), types.DefaultRoleDelimiter)
}
