package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPolicy flags reviews worth a second look
const DefaultPolicy = `package arbiter

import rego.v1

privileged := {"admin", "administrator", "root", "superuser", "dba"}

flags contains "privileged_role" if {
	input.action.action_type == "REVIEW_ACCESS"
	some word in privileged
	indexof(lower(input.action.role), word) != -1
}

flags contains "rare_role" if {
	input.action.action_type == "REVIEW_ACCESS"
	input.action.percentage_compliance < 10
}

flags contains "near_threshold" if {
	input.action.action_type == "REVIEW_ACCESS"
	input.action.percentage_compliance >= input.threshold - 10
}

flags contains "empty_group" if {
	input.action.action_type == "INVESTIGATE"
}
`

// LoadDefaultPolicies loads the built-in module
func (r *Reviewer) LoadDefaultPolicies(ctx context.Context) error {
	if err := r.LoadPolicy(ctx, "default", DefaultPolicy); err != nil {
		return fmt.Errorf("failed to load default policy: %w", err)
	}
	return nil
}

// LoadDir loads every .rego file under dir, named by file name without extension
func (r *Reviewer) LoadDir(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("policy directory %s: %w", dir, err)
	}

	loaded := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, "_test.rego") {
			return nil
		}

		if err := validateFilePath(dir, path); err != nil {
			return fmt.Errorf("invalid file path %s: %w", path, err)
		}

		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}

		name := strings.TrimSuffix(filepath.Base(path), ".rego")
		if err := r.LoadPolicy(ctx, name, string(content)); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.WithContext(ctx).Info().
		Str("dir", dir).
		Int("count", loaded).
		Msg("loaded policy directory")

	return nil
}

// validateFilePath rejects paths that resolve outside root
func validateFilePath(root, path string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}
