package search

import "time"

// SetSleepForTest overrides the backoff sleep function so retry tests don't
// wait out real delays.
func SetSleepForTest(s *INaturalistSearcher, sleep func(time.Duration)) {
	s.sleep = sleep
}
