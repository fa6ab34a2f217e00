package model

import "fmt"

// InvalidRuleError reports a repeat rule that cannot be expanded: a
// non-positive interval, an unknown type, or an end date before the seed.
type InvalidRuleError struct {
	Rule   Repeat
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid repeat rule (type=%s interval=%d): %s", e.Rule.Type, e.Rule.Interval, e.Reason)
}

// TimeOrderError reports an end time that is not strictly after the start.
type TimeOrderError struct {
	Start Clock
	End   Clock
}

func (e *TimeOrderError) Error() string {
	return fmt.Sprintf("시작 시간은 종료 시간보다 빨라야 합니다 (start=%s end=%s)", e.Start, e.End)
}

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
