package domain

// RemoteStatus is the provider's view of a payment, normalized to a closed set.
// Anything the provider sends that is not recognized becomes RemoteStatusUnknown,
// which must never be treated as confirmation.
type RemoteStatus string

const (
	RemoteStatusCompleted    RemoteStatus = "Completed"
	RemoteStatusPending      RemoteStatus = "Pending"
	RemoteStatusInitiated    RemoteStatus = "Initiated"
	RemoteStatusRefunded     RemoteStatus = "Refunded"
	RemoteStatusUserCanceled RemoteStatus = "UserCanceled"
	RemoteStatusExpired      RemoteStatus = "Expired"
	RemoteStatusUnknown      RemoteStatus = "Unknown"
)

// KnownRemoteStatuses lists every recognized status except Unknown.
var KnownRemoteStatuses = []RemoteStatus{
	RemoteStatusCompleted,
	RemoteStatusPending,
	RemoteStatusInitiated,
	RemoteStatusRefunded,
	RemoteStatusUserCanceled,
	RemoteStatusExpired,
}

// IsConfirmed reports whether the status proves settlement.
func (s RemoteStatus) IsConfirmed() bool {
	return s == RemoteStatusCompleted
}
