package screening

import "fmt"

// Status of an application.
//
//	pending ──► reviewed ◄──► shortlisted ──► accepted
//	   │            │              │
//	   └────────────┴──────────────┴──► rejected
//
// Screening only ever writes reviewed or shortlisted. Accepted and rejected
// are human decisions and are never touched by screening.
type Status string

const (
	StatusPending     Status = "pending"
	StatusReviewed    Status = "reviewed"
	StatusShortlisted Status = "shortlisted"
	StatusRejected    Status = "rejected"
	StatusAccepted    Status = "accepted"
)

var validTransitions = map[Status][]Status{
	StatusPending:     {StatusReviewed, StatusShortlisted, StatusRejected},
	StatusReviewed:    {StatusReviewed, StatusShortlisted, StatusRejected},
	StatusShortlisted: {StatusShortlisted, StatusReviewed, StatusRejected, StatusAccepted},
	// accepted and rejected are terminal
}

// ParseStatus converts a raw string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusReviewed, StatusShortlisted, StatusRejected, StatusAccepted:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTransitionAllowed reports whether from → to is permitted.
func IsTransitionAllowed(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Screenable reports whether screening may score an application in status s.
// Without rescreen only pending applications qualify.
func Screenable(s Status, rescreen bool) bool {
	if s == StatusPending {
		return true
	}
	return rescreen && (s == StatusReviewed || s == StatusShortlisted)
}

func outcomeStatus(shortlisted bool) Status {
	if shortlisted {
		return StatusShortlisted
	}
	return StatusReviewed
}
