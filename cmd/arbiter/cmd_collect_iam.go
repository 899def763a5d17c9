package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/arbiter/ingest"
	"github.com/yairfalse/arbiter/sources/awsiam"
)

var collectRegion string

// collectIAMCmd represents the collect-iam command
var collectIAMCmd = &cobra.Command{
	Use:   "collect-iam <output.csv>",
	Short: "Export AWS IAM users and groups for the aws_iam source",
	Long: `Collect IAM users, their group memberships and Department/Title tags
using the default AWS credential chain. The output feeds
'arbiter extract aws_iam'.`,
	Example: `  arbiter collect-iam iam_users.csv
  arbiter collect-iam iam_users.csv --region eu-west-1
  arbiter extract aws_iam iam_users.csv iam_access.csv --offline`,
	Args: cobra.ExactArgs(1),
	RunE: runCollectIAM,
}

func init() {
	rootCmd.AddCommand(collectIAMCmd)

	collectIAMCmd.Flags().StringVarP(&collectRegion, "region", "r", "", "AWS region (default from the AWS config)")
}

func runCollectIAM(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	collector, err := awsiam.NewFromDefaultConfig(ctx, collectRegion)
	if err != nil {
		return err
	}

	table, err := collector.Collect(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("create %s: %w", args[0], err)
	}
	if err := ingest.WriteTable(f, table); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", args[0], err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ %d IAM users written to: %s\n", len(table.Rows), args[0])
	return nil
}
