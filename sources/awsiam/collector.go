// Package awsiam collects IAM users, their groups and tags into a source table.
package awsiam

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/arbiter/sources"
)

// IAMAPI defines the IAM operations used by the collector.
type IAMAPI interface {
	ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	ListGroupsForUser(ctx context.Context, params *iam.ListGroupsForUserInput, optFns ...func(*iam.Options)) (*iam.ListGroupsForUserOutput, error)
	ListUserTags(ctx context.Context, params *iam.ListUserTagsInput, optFns ...func(*iam.Options)) (*iam.ListUserTagsOutput, error)
}

// Collector reads IAM users
type Collector struct {
	client IAMAPI
}

// New creates a collector over an IAM client
func New(client IAMAPI) *Collector {
	return &Collector{client: client}
}

// NewFromDefaultConfig builds the IAM client from the default AWS credential chain
func NewFromDefaultConfig(ctx context.Context, region string) (*Collector, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(iam.NewFromConfig(cfg)), nil
}

// Collect returns one row per IAM user with the columns of sources.IAMColumns
func (c *Collector) Collect(ctx context.Context) (*sources.Table, error) {
	users, err := c.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	records := make([][]string, 0, len(users))
	for _, u := range users {
		rec, err := c.userRecord(ctx, u)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	log.Info().
		Int("users", len(records)).
		Msg("collected IAM users")

	return sources.NewTable(sources.IAMColumns, records), nil
}

func (c *Collector) listUsers(ctx context.Context) ([]iamtypes.User, error) {
	var users []iamtypes.User
	var marker *string

	for {
		output, err := c.client.ListUsers(ctx, &iam.ListUsersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, output.Users...)

		if !output.IsTruncated {
			break
		}
		marker = output.Marker
	}

	return users, nil
}

func (c *Collector) userRecord(ctx context.Context, u iamtypes.User) ([]string, error) {
	name := aws.ToString(u.UserName)

	groups, err := c.groups(ctx, name)
	if err != nil {
		return nil, err
	}
	tags, err := c.tags(ctx, name)
	if err != nil {
		return nil, err
	}

	// Order matches sources.IAMColumns
	return []string{
		name,
		aws.ToString(u.Arn),
		aws.ToString(u.Path),
		tags["email"],
		tags["department"],
		tags["title"],
		strings.Join(groups, ","),
	}, nil
}

func (c *Collector) groups(ctx context.Context, user string) ([]string, error) {
	var names []string
	var marker *string

	for {
		output, err := c.client.ListGroupsForUser(ctx, &iam.ListGroupsForUserInput{
			UserName: aws.String(user),
			Marker:   marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list groups for %s: %w", user, err)
		}
		for _, g := range output.Groups {
			names = append(names, aws.ToString(g.GroupName))
		}

		if !output.IsTruncated {
			break
		}
		marker = output.Marker
	}

	return names, nil
}

// tags returns user tags keyed by lower-case tag key
func (c *Collector) tags(ctx context.Context, user string) (map[string]string, error) {
	tags := make(map[string]string)
	var marker *string

	for {
		output, err := c.client.ListUserTags(ctx, &iam.ListUserTagsInput{
			UserName: aws.String(user),
			Marker:   marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list tags for %s: %w", user, err)
		}
		for _, t := range output.Tags {
			tags[strings.ToLower(aws.ToString(t.Key))] = aws.ToString(t.Value)
		}

		if !output.IsTruncated {
			break
		}
		marker = output.Marker
	}

	return tags, nil
}
