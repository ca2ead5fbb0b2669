package audit

import (
	"context"
	"time"
	"unicode/utf8"
)

// EventCategory classifies audit entries by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers data access with regulatory significance
	// (reads, writes, deletes and exports of protected items).
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication, lockouts and trust failures.
	// These feed into SIEM systems and alerting pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine maintenance activity.
	CategoryOperations EventCategory = "operations"
)

// Operation is the kind of action an entry records.
type Operation string

const (
	OperationAuthenticate   Operation = "authenticate"
	OperationRead           Operation = "read"
	OperationWrite          Operation = "write"
	OperationDelete         Operation = "delete"
	OperationExport         Operation = "export"
	OperationPinningFailure Operation = "pinningFailure"
	OperationLockout        Operation = "lockout"
	OperationRotate         Operation = "rotate"
	OperationMaintenance    Operation = "maintenance"
)

var operationCategories = map[Operation]EventCategory{
	OperationAuthenticate:   CategorySecurity,
	OperationLockout:        CategorySecurity,
	OperationPinningFailure: CategorySecurity,
	OperationRotate:         CategorySecurity,

	OperationRead:   CategoryCompliance,
	OperationWrite:  CategoryCompliance,
	OperationDelete: CategoryCompliance,
	OperationExport: CategoryCompliance,

	OperationMaintenance: CategoryOperations,
}

// Category returns the EventCategory for this operation.
// Unknown operations default to CategoryOperations.
func (o Operation) Category() EventCategory {
	if cat, ok := operationCategories[o]; ok {
		return cat
	}
	return CategoryOperations
}

// Outcome is the result recorded for an operation.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeDenied    Outcome = "denied"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeReported  Outcome = "reported"
)

// MaxReasonLength bounds the free-text reason, in runes.
const MaxReasonLength = 256

// Entry is one audit record. It holds identifiers and metadata only: there is
// no field for secret values, biometric data or payload bytes.
type Entry struct {
	ID        string
	Timestamp time.Time
	Operation Operation
	Subject   string
	Outcome   Outcome
	Reason    string
	RequestID string
	Actor     string
}

// Category returns the category derived from the entry's operation.
func (e Entry) Category() EventCategory {
	return e.Operation.Category()
}

// Normalize trims the reason to MaxReasonLength runes.
func (e Entry) Normalize() Entry {
	if utf8.RuneCountInString(e.Reason) > MaxReasonLength {
		runes := []rune(e.Reason)
		e.Reason = string(runes[:MaxReasonLength])
	}
	return e
}

// Filter selects entries in Query. Zero-valued fields match everything.
type Filter struct {
	Operations []Operation
	Subject    string
	Outcome    Outcome
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Matches reports whether e satisfies the filter (Limit is not considered).
func (f Filter) Matches(e Entry) bool {
	if len(f.Operations) > 0 {
		found := false
		for _, op := range f.Operations {
			if op == e.Operation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Subject != "" && f.Subject != e.Subject {
		return false
	}
	if f.Outcome != "" && f.Outcome != e.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Store persists entries. Implementations are append-only apart from
// retention pruning.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Recorder is the port every component uses to write audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Sink receives entries after they are persisted (file, stream).
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
	Close() error
}
