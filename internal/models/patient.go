package models

import (
	"time"
)

// mobile_linking_status values. The column defaults to "not_connected"
// on EDC creation and is owned by the linking lifecycle thereafter.
const (
	LinkingStatusNotConnected      = "not_connected"
	LinkingStatusLinkingInProgress = "linking_in_progress"
	LinkingStatusConnected         = "connected"
	LinkingStatusDisconnected      = "disconnected"
	LinkingStatusNotParticipating  = "not_participating"
)

type Patient struct {
	ID                  string
	SiteID              string
	SubjectKey          string // external EDC subject identifier
	MobileLinkingStatus string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanGenerateCode reports whether a new linking code may be issued for
// the given status. Generation from "linking_in_progress" supersedes
// the outstanding code; "connected" and "not_participating" patients
// must be disconnected and reactivated first.
func CanGenerateCode(status string) bool {
	switch status {
	case LinkingStatusNotConnected, LinkingStatusDisconnected, LinkingStatusLinkingInProgress:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from one
// linking status to another. Code generation and redemption edges are
// included so every mutation funnels through the same table.
func CanTransition(from, to string) bool {
	switch from {
	case LinkingStatusNotConnected:
		return to == LinkingStatusLinkingInProgress
	case LinkingStatusLinkingInProgress:
		return to == LinkingStatusConnected || to == LinkingStatusLinkingInProgress
	case LinkingStatusConnected:
		return to == LinkingStatusDisconnected
	case LinkingStatusDisconnected:
		return to == LinkingStatusNotParticipating || to == LinkingStatusLinkingInProgress
	case LinkingStatusNotParticipating:
		return to == LinkingStatusDisconnected
	}
	return false
}
