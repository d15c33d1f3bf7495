// Package refs mines alert narratives for references to lost-item and
// found-item records and resolves them through a lookup collaborator.
//
// Extraction is a deterministic pattern cascade, not a classifier. It may
// miss a reference typed in an unexpected way, or tag a bare code as a
// mention when the narrative actually created it. Both failure modes are
// visible in the result: what matched, which pattern matched it, and which
// lookups failed.
package refs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the category of record a code points to.
type Kind string

const (
	KindLostItem  Kind = "lost-item"
	KindFoundItem Kind = "found-item"
)

// Provenance says how the narrative refers to the record.
type Provenance string

const (
	// ProvenanceCreated means the narrative says the record was created while
	// handling the alert.
	ProvenanceCreated Provenance = "created-during-this-alert"

	// ProvenanceMentioned means the narrative only cross-references the record.
	ProvenanceMentioned Provenance = "mentioned-as-match"
)

// Record is the handle of a resolved lost or found item record.
type Record struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Kind      Kind      `json:"kind"`
	Station   string    `json:"station_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Mention is one reference found in a narrative. Record is nil until a
// lookup resolves it.
type Mention struct {
	Kind       Kind       `json:"kind"`
	Code       string     `json:"code"`
	Provenance Provenance `json:"provenance"`
	Pattern    string     `json:"pattern"`
	Record     *Record    `json:"record,omitempty"`
}

// ErrNotFound is returned by a Lookup when no record carries the code.
var ErrNotFound = errors.New("record not found")

// Lookup finds a record by its code. Implementations must be safe for
// concurrent use.
type Lookup interface {
	FindByCode(ctx context.Context, code string) (*Record, error)
}

// LookupFailure records why a mention stayed unresolved.
type LookupFailure struct {
	Code   string `json:"code"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (f LookupFailure) Error() string {
	return fmt.Sprintf("lookup %s: %s", f.Code, f.Reason)
}

func (f LookupFailure) Unwrap() error { return f.Err }

// Failure reasons.
const (
	ReasonNotFound = "not_found"
	ReasonTimeout  = "timeout"
	ReasonError    = "error"
)

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	return ReasonError
}
