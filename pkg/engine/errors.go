package engine

import "fmt"

// ContractDataError reports malformed or out-of-range contract terms.
type ContractDataError struct {
	Field  string
	Reason string
}

func (e *ContractDataError) Error() string {
	return fmt.Sprintf("invalid contract data: %s %s", e.Field, e.Reason)
}

// InvalidSettlementError reports a settlement that cannot be quoted or applied.
type InvalidSettlementError struct {
	Registration string
	Reason       string
}

func (e *InvalidSettlementError) Error() string {
	return fmt.Sprintf("invalid settlement of vehicle %s: %s", e.Registration, e.Reason)
}

// RateChangeError reports a rejected base rate update.
type RateChangeError struct {
	Reason string
}

func (e *RateChangeError) Error() string {
	return "invalid rate change: " + e.Reason
}

func dataError(field, format string, args ...any) error {
	return &ContractDataError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
