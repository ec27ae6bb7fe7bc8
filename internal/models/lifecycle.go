package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	fingerprintLength    = 16
	fingerprintPermanent = "permanent"
)

// Fingerprint hashes the identity-bearing fields of a call. Title and
// organization are lowercased and trimmed; a missing deadline hashes as the
// literal "permanent".
func Fingerprint(title, organization string, deadline *time.Time) string {
	d := fingerprintPermanent
	if deadline != nil {
		d = deadline.Format("2006-01-02")
	}
	key := strings.ToLower(strings.TrimSpace(title)) + "|" +
		strings.ToLower(strings.TrimSpace(organization)) + "|" + d
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// StatusAt derives the lifecycle status as of the given day.
//
// An explicit closure always wins. The stored Status is a construction-time
// snapshot and is otherwise ignored: without a deadline the record is
// permanent, unless it was constructed as unknown. With a deadline, it is
// closed once the deadline is strictly before asOf.
func (r CanonicalRecord) StatusAt(asOf time.Time) Status {
	if r.ClosedExplicitly {
		return StatusClosed
	}
	if r.Deadline == nil {
		if r.Status == StatusUnknown {
			return StatusUnknown
		}
		return StatusPermanent
	}
	if Date(*r.Deadline).Before(Date(asOf)) {
		return StatusClosed
	}
	return StatusOpen
}

func (r CanonicalRecord) IsActiveAt(asOf time.Time) bool {
	return r.StatusAt(asOf) != StatusClosed
}

// DaysRemainingAt returns whole days until the deadline, clamped at zero, or
// nil when the record has no deadline.
func (r CanonicalRecord) DaysRemainingAt(asOf time.Time) *int {
	if r.Deadline == nil {
		return nil
	}
	days := int(Date(*r.Deadline).Sub(Date(asOf)).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}

func (r CanonicalRecord) UrgencyAt(asOf time.Time) Urgency {
	switch r.StatusAt(asOf) {
	case StatusClosed:
		return UrgencyExpired
	case StatusPermanent, StatusUnknown:
		return UrgencyPermanent
	}
	days := r.DaysRemainingAt(asOf)
	switch {
	case days == nil:
		return UrgencyPermanent
	case *days <= UrgentThresholdDays:
		return UrgencyUrgent
	case *days <= UpcomingThresholdDays:
		return UrgencyUpcoming
	default:
		return UrgencyComfortable
	}
}
