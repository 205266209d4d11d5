package models

import (
	"fmt"
	"strings"
)

// Justification reason codes accepted on privileged lifecycle changes.
// "other" is the escape hatch and requires free-text notes.
const (
	ReasonWithdrewConsent = "withdrew_consent"
	ReasonDeviceLost      = "device_lost"
	ReasonDeviceReplaced  = "device_replaced"
	ReasonSiteRequest     = "site_request"
	ReasonStudyExit       = "study_exit"
	ReasonOther           = "other"
)

// Reason is the validated justification attached to a lifecycle
// transition: either a fixed enumerated code, or "other" carrying
// mandatory notes. Construct via ParseReason so an unvalidated value
// never reaches persistence.
type Reason struct {
	Code  string
	Notes string
}

// ParseReason validates a reason code and its optional notes.
func ParseReason(code, notes string) (Reason, error) {
	code = strings.TrimSpace(code)
	notes = strings.TrimSpace(notes)

	switch code {
	case ReasonWithdrewConsent, ReasonDeviceLost, ReasonDeviceReplaced, ReasonSiteRequest, ReasonStudyExit:
		return Reason{Code: code, Notes: notes}, nil
	case ReasonOther:
		if notes == "" {
			return Reason{}, fmt.Errorf("%w: reason %q requires notes", ErrBadRequest, ReasonOther)
		}
		return Reason{Code: code, Notes: notes}, nil
	case "":
		return Reason{}, fmt.Errorf("%w: reason is required", ErrBadRequest)
	default:
		return Reason{}, fmt.Errorf("%w: unknown reason %q", ErrBadRequest, code)
	}
}

// String renders the reason for audit justification text.
func (r Reason) String() string {
	if r.Notes == "" {
		return r.Code
	}
	return r.Code + ": " + r.Notes
}
