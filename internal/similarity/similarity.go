// Package similarity indexes clause embeddings for duplicate, outlier,
// and boilerplate detection. The embedding oracle is optional: a hashed
// trigram fallback keeps the index deterministic and available offline.
package similarity

import (
	"context"
	"log/slog"
	"sort"

	"github.com/leaselens/leaselens/internal/oracle"
)

const (
	// Outlier detection is skipped below this corpus size.
	minOutlierCorpus = 10

	defaultDuplicateThreshold = 0.95
	defaultCrossDocThreshold  = 0.8
	defaultStandardMinDocs    = 3
)

// EmbeddedClause is one indexed clause with its vector.
type EmbeddedClause struct {
	ClauseID string
	DocID    string
	Content  string
	Vector   []float64
}

// Match is one cross-document similar pair.
type Match struct {
	DocA       string  `json:"doc_a"`
	ClauseA    string  `json:"clause_a"`
	DocB       string  `json:"doc_b"`
	ClauseB    string  `json:"clause_b"`
	Similarity float64 `json:"similarity"`
	SampleA    string  `json:"sample_a"`
	SampleB    string  `json:"sample_b"`
}

// StandardClause is boilerplate language recurring across documents.
type StandardClause struct {
	ClauseIDs   []string `json:"clause_ids"`
	Documents   []string `json:"documents"`
	Sample      string   `json:"sample"`
	Occurrences int      `json:"occurrences"`
}

// Index holds embedded clauses and answers similarity queries. Build it
// fully before querying; it is not safe for concurrent mutation.
type Index struct {
	embedder oracle.EmbeddingOracle
	clauses  []EmbeddedClause
	logger   *slog.Logger
}

// NewIndex creates an index. embedder may be nil, forcing the fallback
// vectorizer for every clause.
func NewIndex(embedder oracle.EmbeddingOracle, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{embedder: embedder, logger: logger.With("component", "similarity")}
}

// Add embeds one clause and appends it to the index. Embedding failures
// degrade to the fallback vectorizer instead of erroring.
func (ix *Index) Add(ctx context.Context, docID, clauseID, content string) {
	if content == "" {
		return
	}
	ix.clauses = append(ix.clauses, EmbeddedClause{
		ClauseID: clauseID,
		DocID:    docID,
		Content:  content,
		Vector:   ix.embed(ctx, content),
	})
}

func (ix *Index) embed(ctx context.Context, text string) []float64 {
	if ix.embedder == nil {
		return fallbackVector(text)
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		ix.logger.Warn("embedding failed, using fallback vectorizer", "error", err)
		return fallbackVector(text)
	}
	return vec
}

// Len reports the number of indexed clauses.
func (ix *Index) Len() int { return len(ix.clauses) }

// ScoredClause pairs a clause id with its similarity to a query.
type ScoredClause struct {
	ClauseID   string  `json:"clause_id"`
	DocID      string  `json:"doc_id"`
	Similarity float64 `json:"similarity"`
}

// FindSimilar returns up to topK clauses with similarity >= minSimilarity
// to the query text, best first.
func (ix *Index) FindSimilar(ctx context.Context, query string, topK int, minSimilarity float64) []ScoredClause {
	if len(ix.clauses) == 0 {
		return nil
	}
	qv := ix.embed(ctx, query)

	var out []ScoredClause
	for _, c := range ix.clauses {
		if sim := cosine(qv, c.Vector); sim >= minSimilarity {
			out = append(out, ScoredClause{ClauseID: c.ClauseID, DocID: c.DocID, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// FindDuplicateClauses clusters near-duplicate clauses. Pairwise cosine
// similarity becomes a distance matrix (1-similarity, clipped at 0,
// diagonal forced to 0) fed to density clustering with eps = 1-threshold
// and minimum cluster size 2. Noise points belong to no cluster.
func (ix *Index) FindDuplicateClauses(threshold float64) [][]string {
	if threshold <= 0 {
		threshold = defaultDuplicateThreshold
	}
	if len(ix.clauses) < 2 {
		return nil
	}

	dist := ix.distanceMatrix()
	labels := densityCluster(dist, 1-threshold, 2)

	groups := make(map[int][]string)
	var order []int
	for i, label := range labels {
		if label == noiseLabel {
			continue
		}
		if _, seen := groups[label]; !seen {
			order = append(order, label)
		}
		groups[label] = append(groups[label], ix.clauses[i].ClauseID)
	}

	out := make([][]string, 0, len(order))
	for _, label := range order {
		out = append(out, groups[label])
	}
	return out
}

// FindOutlierClauses flags clauses whose mean similarity to the rest of
// the corpus falls at or below the contamination percentile. Small
// corpora are skipped entirely.
func (ix *Index) FindOutlierClauses(contamination float64) []string {
	if len(ix.clauses) < minOutlierCorpus {
		return nil
	}

	n := len(ix.clauses)
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 1.0 // self-similarity
		for j := 0; j < n; j++ {
			if i != j {
				sum += cosine(ix.clauses[i].Vector, ix.clauses[j].Vector)
			}
		}
		means[i] = sum / float64(n)
	}

	threshold := percentile(means, contamination*100)
	var out []string
	for i, m := range means {
		if m <= threshold {
			out = append(out, ix.clauses[i].ClauseID)
		}
	}
	return out
}

// FindCrossDocumentSimilarities compares clause pairs from different
// source documents, best matches first.
func (ix *Index) FindCrossDocumentSimilarities(minSimilarity float64) []Match {
	if minSimilarity <= 0 {
		minSimilarity = defaultCrossDocThreshold
	}

	var out []Match
	for i := 0; i < len(ix.clauses); i++ {
		for j := i + 1; j < len(ix.clauses); j++ {
			a, b := ix.clauses[i], ix.clauses[j]
			if a.DocID == b.DocID {
				continue
			}
			sim := cosine(a.Vector, b.Vector)
			if sim < minSimilarity {
				continue
			}
			out = append(out, Match{
				DocA: a.DocID, ClauseA: a.ClauseID,
				DocB: b.DocID, ClauseB: b.ClauseID,
				Similarity: sim,
				SampleA:    sample(a.Content, 100),
				SampleB:    sample(b.Content, 100),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// FindStandardClauses surfaces boilerplate: groups of highly similar
// clauses spanning at least minDocs distinct documents.
func (ix *Index) FindStandardClauses(minDocs int) []StandardClause {
	if minDocs <= 0 {
		minDocs = defaultStandardMinDocs
	}
	if len(ix.clauses) < minDocs {
		return nil
	}

	used := make([]bool, len(ix.clauses))
	var out []StandardClause
	for i := 0; i < len(ix.clauses); i++ {
		if used[i] {
			continue
		}
		group := []int{i}
		for j := i + 1; j < len(ix.clauses); j++ {
			if !used[j] && cosine(ix.clauses[i].Vector, ix.clauses[j].Vector) > 0.9 {
				group = append(group, j)
				used[j] = true
			}
		}
		if len(group) < minDocs {
			continue
		}
		docs := make(map[string]bool)
		ids := make([]string, 0, len(group))
		for _, idx := range group {
			docs[ix.clauses[idx].DocID] = true
			ids = append(ids, ix.clauses[idx].ClauseID)
		}
		if len(docs) < minDocs {
			continue
		}
		docList := make([]string, 0, len(docs))
		for d := range docs {
			docList = append(docList, d)
		}
		sort.Strings(docList)
		out = append(out, StandardClause{
			ClauseIDs:   ids,
			Documents:   docList,
			Sample:      sample(ix.clauses[group[0]].Content, 200),
			Occurrences: len(group),
		})
	}
	return out
}

func (ix *Index) distanceMatrix() [][]float64 {
	n := len(ix.clauses)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - cosine(ix.clauses[i].Vector, ix.clauses[j].Vector)
			if d < 0 {
				d = 0
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// percentile interpolates the p-th percentile of values.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func sample(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
