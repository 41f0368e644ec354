package metrics

// Noop discards every event so callers never need a nil check.
type Noop struct{}

func (Noop) RecordDecision(string, Outcome)    {}
func (Noop) RecordBackendError(string, string) {}
