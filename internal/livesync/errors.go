package livesync

import "fmt"

type FetchError struct {
	Kind string
	Key  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %s: %v", e.Kind, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type SubscriptionError struct {
	Kind     string
	Key      string
	Attempts int
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s for %s (attempt %d): %v", e.Kind, e.Key, e.Attempts, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
