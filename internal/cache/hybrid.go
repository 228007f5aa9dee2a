package cache

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Fusion and ranking parameters.
const (
	// rrfK is the reciprocal-rank-fusion constant. 60 is the standard
	// value from the literature and keeps low ranks from dominating.
	rrfK = 60

	// candidateLimit caps each strategy's ranked list before fusion.
	candidateLimit = 20
)

// BM25 parameters - standard values from literature.
const (
	bm25K1 = 1.2  // Term frequency saturation parameter
	bm25B  = 0.75 // Length normalization parameter
)

// Hybrid answers queries by fusing semantic nearest-neighbor search over
// question embeddings with lexical BM25 search over question+answer text.
// The two strategies cover paraphrase matches and exact-term matches
// respectively; rank-based fusion needs no score normalization across the
// heterogeneous similarity metrics.
type Hybrid struct {
	store    *Store
	embedder Embedder
}

// NewHybrid creates a hybrid searcher over the given store and embedder.
func NewHybrid(store *Store, embedder Embedder) *Hybrid {
	return &Hybrid{store: store, embedder: embedder}
}

// Search returns the top K approved records ranked by fused score. An
// embedding or backend failure returns ErrRetrievalUnavailable; callers
// treat that as a cache miss.
func (h *Hybrid) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
	}

	corpus, err := h.store.ListApproved()
	if err != nil {
		return nil, fmt.Errorf("%w: load corpus: %v", ErrRetrievalUnavailable, err)
	}
	if len(corpus) == 0 {
		return nil, nil
	}

	semantic, semScores := semanticRank(queryVec, corpus)
	lexical := lexicalRank(query, corpus)

	fused := fuseRRF(semantic, lexical)

	results := make([]SearchResult, 0, len(fused))
	for id, score := range fused {
		results = append(results, SearchResult{
			Record:        byID(corpus, id),
			FusedScore:    score,
			SemanticScore: semScores[id],
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].SemanticScore != results[j].SemanticScore {
			return results[i].SemanticScore > results[j].SemanticScore
		}
		return results[i].Record.TimesAsked < results[j].Record.TimesAsked
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Store persists a new approved answer, computing both embeddings. An empty
// approver is rejected with a ValidationError before any embedding work.
func (h *Hybrid) Store(ctx context.Context, question, answer, approvedBy, category string) (string, error) {
	if approvedBy == "" {
		return "", &ValidationError{Field: "approved_by", Reason: "approval identity is required"}
	}

	qVec, err := h.embedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("%w: embed question: %v", ErrRetrievalUnavailable, err)
	}
	aVec, err := h.embedder.Embed(ctx, answer)
	if err != nil {
		return "", fmt.Errorf("%w: embed answer: %v", ErrRetrievalUnavailable, err)
	}

	return h.store.Insert(&CachedAnswer{
		Question:          question,
		Answer:            answer,
		Category:          category,
		QuestionEmbedding: qVec,
		AnswerEmbedding:   aVec,
		ApprovedBy:        approvedBy,
	})
}

// RecordUsage increments the record's times_asked counter.
func (h *Hybrid) RecordUsage(recordID string) error {
	return h.store.RecordUsage(recordID)
}

// RecordOutcome folds an outcome score into the record's effectiveness.
func (h *Hybrid) RecordOutcome(recordID string, score float64) error {
	return h.store.RecordOutcome(recordID, score)
}

// ApplyCorrection replaces a record's answer with a human-corrected one,
// re-embedding the new text and preserving the original.
func (h *Hybrid) ApplyCorrection(ctx context.Context, recordID, correctedAnswer string) error {
	aVec, err := h.embedder.Embed(ctx, correctedAnswer)
	if err != nil {
		return fmt.Errorf("%w: embed correction: %v", ErrRetrievalUnavailable, err)
	}
	return h.store.ReplaceAnswer(recordID, correctedAnswer, aVec)
}

// semanticRank orders the corpus by cosine similarity of the query vector
// against stored question embeddings. Returns the ranked id list and the
// raw scores for tie-breaking.
func semanticRank(queryVec []float32, corpus []*CachedAnswer) ([]string, map[string]float64) {
	type scored struct {
		id    string
		score float64
	}

	scores := make(map[string]float64, len(corpus))
	ranked := make([]scored, 0, len(corpus))
	for _, rec := range corpus {
		s := cosineSimilarity(queryVec, rec.QuestionEmbedding)
		scores[rec.ID] = s
		ranked = append(ranked, scored{rec.ID, s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > candidateLimit {
		ranked = ranked[:candidateLimit]
	}
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.id
	}
	return ids, scores
}

// lexicalRank orders the corpus by BM25 relevance of the query terms
// against each record's question+answer text. Records with zero term
// overlap are omitted from the list entirely.
func lexicalRank(query string, corpus []*CachedAnswer) []string {
	queryTerms := tokenize(strings.ToLower(query))
	if len(queryTerms) == 0 {
		return nil
	}

	avgDocLen, docFreqs := computeCorpusStats(corpus)

	type scored struct {
		id    string
		score float64
	}
	var ranked []scored
	for _, rec := range corpus {
		s := bm25Score(rec, queryTerms, avgDocLen, docFreqs, len(corpus))
		if s > 0 {
			ranked = append(ranked, scored{rec.ID, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > candidateLimit {
		ranked = ranked[:candidateLimit]
	}
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.id
	}
	return ids
}

// fuseRRF computes reciprocal rank fusion over the ranked id lists: each
// item's fused score is the sum of 1/(k + rank) over every list it appears
// in, with rank 0-indexed. Absence from a list contributes nothing.
func fuseRRF(lists ...[]string) map[string]float64 {
	fused := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			fused[id] += 1.0 / float64(rrfK+rank)
		}
	}
	return fused
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// bm25Score computes a BM25 relevance score for a record against query
// terms. BM25 is a probabilistic ranking function used in information
// retrieval; higher scores indicate greater relevance.
func bm25Score(rec *CachedAnswer, queryTerms []string, avgDocLen float64, docFreqs map[string]int, totalDocs int) float64 {
	if len(queryTerms) == 0 || totalDocs == 0 {
		return 0
	}

	docTerms := tokenize(docText(rec))
	docLen := float64(len(docTerms))
	if docLen == 0 {
		return 0
	}

	termFreqs := make(map[string]int)
	for _, term := range docTerms {
		termFreqs[term]++
	}

	score := 0.0
	for _, term := range queryTerms {
		tf := float64(termFreqs[term])
		if tf == 0 {
			continue
		}

		df := docFreqs[term]
		if df == 0 {
			df = 1 // Avoid division by zero
		}

		// IDF component: log((N - df + 0.5) / (df + 0.5) + 1)
		idf := math.Log((float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1)

		// TF component with length normalization
		lengthNorm := 1 - bm25B + bm25B*(docLen/avgDocLen)
		tfNorm := (tf * (bm25K1 + 1)) / (tf + bm25K1*lengthNorm)

		score += idf * tfNorm
	}
	return score
}

// computeCorpusStats computes document frequencies and average document
// length over the corpus.
func computeCorpusStats(corpus []*CachedAnswer) (avgDocLen float64, docFreqs map[string]int) {
	docFreqs = make(map[string]int)
	totalLen := 0

	for _, rec := range corpus {
		tokens := tokenize(docText(rec))
		totalLen += len(tokens)

		seen := make(map[string]bool)
		for _, token := range tokens {
			if !seen[token] {
				seen[token] = true
				docFreqs[token]++
			}
		}
	}

	if len(corpus) > 0 {
		avgDocLen = float64(totalLen) / float64(len(corpus))
	}
	return avgDocLen, docFreqs
}

// docText combines a record's question and answer into the lexical
// document text.
func docText(rec *CachedAnswer) string {
	return strings.ToLower(rec.Question + " " + rec.Answer)
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)

// tokenize splits text into lowercase tokens for BM25 scoring.
func tokenize(text string) []string {
	words := wordPattern.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) >= 2 {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func byID(corpus []*CachedAnswer, id string) *CachedAnswer {
	for _, rec := range corpus {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}
