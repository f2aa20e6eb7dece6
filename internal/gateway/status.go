package gateway

import (
	"strings"

	"subscription/internal/domain"
)

var remoteStatuses = map[string]domain.RemoteStatus{
	"completed":         domain.RemoteStatusCompleted,
	"pending":           domain.RemoteStatusPending,
	"initiated":         domain.RemoteStatusInitiated,
	"refunded":          domain.RemoteStatusRefunded,
	"partiallyrefunded": domain.RemoteStatusRefunded,
	"usercanceled":      domain.RemoteStatusUserCanceled,
	"usercancelled":     domain.RemoteStatusUserCanceled,
	"expired":           domain.RemoteStatusExpired,
}

// ParseStatus normalizes a provider status string. Matching ignores case,
// spaces, underscores and hyphens; anything else is RemoteStatusUnknown.
func ParseStatus(raw string) domain.RemoteStatus {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))

	if status, ok := remoteStatuses[key]; ok {
		return status
	}
	return domain.RemoteStatusUnknown
}
