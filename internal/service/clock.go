package service

import "time"

// Clock yields the current instant. Injected everywhere so tests can pin
// time.
type Clock interface {
	Now() time.Time
}

type realClock struct {
	loc *time.Location
}

// NewClock returns a wall clock reporting in the given location.
func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return realClock{loc: loc}
}

func (c realClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// fixedClock pins Now for tests.
type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }
