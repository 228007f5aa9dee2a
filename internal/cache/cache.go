// Package cache implements the hybrid retrieval cache for expert answers:
// human-approved question/answer records retrievable by fused semantic and
// lexical search.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetrievalUnavailable indicates the embedding or search backend failed.
// Callers should treat it as a cache miss and fall through to the expert
// path rather than fail the session.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// ValidationError indicates a record was rejected at construction time.
type ValidationError struct {
	// Field is the offending field.
	Field string
	// Reason describes why the value was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Embedder converts text into a dense vector. Implementations live in the
// llm package; tests supply deterministic fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedAnswer is one approved question/answer record. Records enter only
// through human-approved insertion and are retrievable only while approved.
type CachedAnswer struct {
	// ID is the unique record identifier.
	ID string
	// Question is the original escalated question.
	Question string
	// Answer is the approved answer text.
	Answer string
	// Category is the free-text topic tag used by the learner.
	Category string
	// QuestionEmbedding is the dense vector of the question.
	QuestionEmbedding []float32
	// AnswerEmbedding is the dense vector of the answer.
	AnswerEmbedding []float32
	// ApprovedBy is the reviewer identity; never empty for stored records.
	ApprovedBy string
	// ApprovedAt is when approval happened.
	ApprovedAt time.Time
	// HumanApproved gates retrieval eligibility.
	HumanApproved bool
	// HumanModified indicates a reviewer rewrote the answer after storage.
	HumanModified bool
	// OriginalAnswer preserves the pre-correction answer text.
	OriginalAnswer string
	// TimesAsked counts how often this record served a query.
	TimesAsked int
	// Effectiveness is the running mean outcome score for this record.
	Effectiveness float64
	// EvalCount is how many outcome scores fed the running mean.
	EvalCount int
	// CreatedAt is when the record was stored.
	CreatedAt time.Time
}

// SearchResult pairs a record with its fused relevance score.
type SearchResult struct {
	// Record is the matched cached answer.
	Record *CachedAnswer
	// FusedScore is the reciprocal-rank-fusion score across strategies.
	FusedScore float64
	// SemanticScore is the raw cosine similarity, kept for tie-breaking
	// and diagnostics.
	SemanticScore float64
}
