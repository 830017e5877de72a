package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// VerificationStatus tracks reachability verification of a citation URL.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// ScanStatus tracks content fetch and extraction progress for a citation.
type ScanStatus string

const (
	ScanNotScanned    ScanStatus = "not_scanned"
	ScanScanning      ScanStatus = "scanning"
	ScanScanned       ScanStatus = "scanned"
	ScanScannedDenied ScanStatus = "scanned_denied"
)

// Terminal reports whether the scan has reached a terminal state.
func (s ScanStatus) Terminal() bool {
	return s == ScanScanned || s == ScanScannedDenied
}

// RelevanceDecision records the save/deny outcome after scoring.
type RelevanceDecision string

const (
	DecisionSaved  RelevanceDecision = "saved"
	DecisionDenied RelevanceDecision = "denied"
)

// Citation is one outbound reference found on a monitored page. One row
// exists per unique URL per page; duplicate URLs in multiple sections of
// the same page are merged at extraction time. Rows are mutated only by
// the processing worker and the self-audit job, and deleted only by
// explicit cleanup of mis-classified internal links.
type Citation struct {
	ID                 int64              `json:"id" db:"id"`
	PageID             int64              `json:"page_id" db:"page_id"`
	URL                string             `json:"url" db:"url"`
	Title              *string            `json:"title,omitempty" db:"title"`
	SectionContext     string             `json:"section_context" db:"section_context"`
	SourceNumber       *int               `json:"source_number,omitempty" db:"source_number"`
	SurroundingText    string             `json:"surrounding_text,omitempty" db:"surrounding_text"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
	ScanStatus         ScanStatus         `json:"scan_status" db:"scan_status"`
	RelevanceDecision  *RelevanceDecision `json:"relevance_decision,omitempty" db:"relevance_decision"`
	AIPriorityScore    *float64           `json:"ai_priority_score,omitempty" db:"ai_priority_score"`
	ExtractedText      *string            `json:"extracted_text,omitempty" db:"extracted_text"`
	SavedContentID     *string            `json:"saved_content_id,omitempty" db:"saved_content_id"`
	ErrorMessage       *string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// CitationState is the single tagged state derived from the three
// persisted status columns. Modeling the combination explicitly makes
// illegal combinations unrepresentable in worker logic; the three columns
// remain the storage-level compatibility view.
type CitationState string

const (
	StatePending      CitationState = "pending"
	StateVerifyFailed CitationState = "verify_failed"
	StateVerified     CitationState = "verified"
	StateScanning     CitationState = "scanning"
	StateScanDenied   CitationState = "scan_denied"
	StateScanned      CitationState = "scanned"
	StateSaved        CitationState = "saved"
	StateDenied       CitationState = "denied"
)

// ErrIllegalState is returned when the three status columns form a
// combination the state machine cannot produce.
var ErrIllegalState = eris.New("model: illegal citation state combination")

// StateOf collapses the three status columns into a single tagged state.
func StateOf(c *Citation) (CitationState, error) {
	if c.RelevanceDecision != nil {
		if !c.ScanStatus.Terminal() {
			return "", ErrIllegalState
		}
		switch *c.RelevanceDecision {
		case DecisionSaved:
			return StateSaved, nil
		case DecisionDenied:
			return StateDenied, nil
		default:
			return "", ErrIllegalState
		}
	}

	switch c.VerificationStatus {
	case VerificationFailed:
		return StateVerifyFailed, nil
	case VerificationPending:
		if c.ScanStatus != ScanNotScanned && c.ScanStatus != ScanScanning {
			return "", ErrIllegalState
		}
		if c.ScanStatus == ScanScanning {
			return StateScanning, nil
		}
		return StatePending, nil
	case VerificationVerified:
		switch c.ScanStatus {
		case ScanNotScanned:
			return StateVerified, nil
		case ScanScanning:
			return StateScanning, nil
		case ScanScanned:
			return StateScanned, nil
		case ScanScannedDenied:
			return StateScanDenied, nil
		}
	}
	return "", ErrIllegalState
}

// Eligible reports whether a citation in this state may be claimed by a
// processing worker. Matches the selection predicate in the citation store.
func (s CitationState) Eligible() bool {
	switch s {
	case StatePending, StateVerified, StateScanning:
		return true
	default:
		return false
	}
}

// TerminalDenied reports whether the state is a terminal non-save outcome.
func (s CitationState) TerminalDenied() bool {
	return s == StateVerifyFailed || s == StateScanDenied || s == StateDenied
}
