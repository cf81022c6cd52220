package similarity

import (
	"hash/fnv"
	"math"
)

const fallbackDim = 384

// fallbackVector builds a deterministic hashed character-trigram bag,
// L2-normalized. Used whenever the embedding oracle is absent or fails,
// so indexing never aborts a run.
func fallbackVector(text string) []float64 {
	v := make([]float64, fallbackDim)
	runes := []rune(text)
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		v[h.Sum32()%fallbackDim]++
	}
	normalize(v)
	return v
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// zero or the lengths differ.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
