package session

import (
	"github.com/vmngo/livequiz/internal/domain"
	"github.com/vmngo/livequiz/internal/errors"
)

// RequireHost fails unless the caller is the session host. Applied at every
// lifecycle-mutating boundary.
func RequireHost(ss *domain.Session, callerID string) error {
	if callerID != ss.HostID {
		return errors.Newf(errors.CodePermissionDenied,
			"only the session host may perform this operation")
	}
	return nil
}

// RequireEnrolled fails unless the caller holds a ledger entry in the session.
// Applied at every score-mutating boundary.
func RequireEnrolled(ss *domain.Session, callerID string) error {
	if ss.ScoreIndex(callerID) < 0 {
		return errors.Newf(errors.CodeFailedPrecondition,
			"participant %s is not playing in this session", callerID)
	}
	return nil
}
