package domain

import (
	"fmt"
	"strings"
)

// Status is the provider-reported transaction status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusSuccessful: {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// ParseStatus normalizes a provider status. "In Progress", "in-progress" and
// "IN_PROGRESS" all parse to StatusInProgress.
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Join(strings.Fields(normalized), "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	status := Status(normalized)
	if _, ok := knownStatuses[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// IsTerminal reports whether no further provider transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
