// Package recognition re-identifies faces by comparing appearance embeddings
// against the enrolled identities.
package recognition

import (
	"math"
	"strconv"
)

// EmbeddingSize is the length of a face re-identification descriptor.
const EmbeddingSize = 256

// UnknownID marks a face that matched no enrolled identity.
const UnknownID int32 = -10

// UnknownLabel is how UnknownID is rendered in events and overlays.
const UnknownLabel = "UNKNOWN"

// DefaultThreshold is the cosine distance below which two faces match.
const DefaultThreshold = 0.3

// normEpsilon guards the cosine denominator against near-zero norms.
const normEpsilon = 1e-6

// Embedding is a fixed-length face descriptor.
type Embedding [EmbeddingSize]float32

// Record is one enrolled identity.
type Record struct {
	ID        int32
	Embedding Embedding
}

// Result is the outcome of matching one face.
type Result struct {
	ID       int32
	Distance float64
	Known    bool
}

// Unknown is the result for a face with no match.
func Unknown(distance float64) Result {
	return Result{ID: UnknownID, Distance: distance}
}

// Label renders an identity id for events and overlays.
func Label(id int32) string {
	if id == UnknownID {
		return UnknownLabel
	}
	return strconv.FormatInt(int64(id), 10)
}

// CosineDistance returns 1 - a·b / (sqrt(|a|²|b|²) + 1e-6).
// Identical vectors give 0, opposite vectors approach 2.
func CosineDistance(a, b Embedding) float64 {
	var xy, xx, yy float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		xy += x * y
		xx += x * x
		yy += y * y
	}
	return 1 - xy/(math.Sqrt(xx*yy)+normEpsilon)
}

// Matcher finds the nearest enrolled identity within a threshold.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a Matcher. A non-positive threshold selects DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the match threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match returns the nearest record's id when its distance is below the
// threshold, and UnknownID otherwise. On equal distances the earliest record
// wins.
func (m *Matcher) Match(query Embedding, records []Record) Result {
	if len(records) == 0 {
		return Unknown(math.Inf(1))
	}

	best := 0
	bestDist := math.Inf(1)
	for i := range records {
		d := CosineDistance(query, records[i].Embedding)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	if bestDist < m.threshold {
		return Result{ID: records[best].ID, Distance: bestDist, Known: true}
	}
	return Unknown(bestDist)
}
