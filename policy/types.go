package policy

import "github.com/yairfalse/arbiter/types"

// Query is the rule every review module contributes to
const Query = "data.arbiter.flags"

// Input is the document each action is evaluated against
type Input struct {
	Action    types.RemediationAction `json:"action"`
	Threshold int                     `json:"threshold"`
}

// ReviewStats summarises one review pass
type ReviewStats struct {
	Evaluated int            `json:"evaluated"`
	Flagged   int            `json:"flagged"`
	ByFlag    map[string]int `json:"by_flag"`
	Errors    int            `json:"errors"`
}
