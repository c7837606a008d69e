package domain

import "time"

// Snapshot is the body of one successful fetch of an upstream source
type Snapshot struct {
	Source      string
	Body        []byte
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
}

func (s Snapshot) Age(now time.Time) time.Duration {
	age := now.Sub(s.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}
