package matcher

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/hradilp/face-finder/internal/observability"
)

// Match is one asset whose best face fell within the tolerance.
type Match struct {
	AssetID    string  `json:"asset_id"`
	AssetName  string  `json:"asset_name"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Result carries the matches of one search plus how they were computed.
type Result struct {
	Matches      []Match `json:"matches"`
	FacesChecked int     `json:"faces_checked"`
	UsedCache    bool    `json:"used_cache"`
}

// Matcher computes distances between query vectors and cached collections.
type Matcher struct {
	cache *Cache
}

// New creates a matcher on top of the given encoding cache.
func New(cache *Cache) *Matcher {
	return &Matcher{cache: cache}
}

// euclideanDistance computes sqrt(sum((a-b)^2)) in double precision. Stored
// vectors are float32; accumulating in float64 keeps high-dimensional sums
// from drifting.
func euclideanDistance(query []float64, row []float32) float64 {
	var sum float64
	for i, q := range query {
		d := q - float64(row[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// toFloat64 widens the query once so the per-row loop stays cheap.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// confidence maps a Euclidean distance onto a 0-100 scale as
// (1 - distance) * 100, clamped at zero for distances above 1.
func confidence(distance float64) float64 {
	c := (1 - distance) * 100
	if c < 0 {
		c = 0
	}
	return math.Round(c*100) / 100
}

// FindMatches compares the query vector against every cached face of the
// collection. A row matches when its Euclidean distance is at most the
// tolerance (inclusive). Multiple faces of the same asset collapse to the
// minimum distance. Matches come back sorted best first.
func (m *Matcher) FindMatches(ctx context.Context, collectionID string, queryVector []float32, tolerance float64) (*Result, error) {
	started := time.Now()
	defer func() {
		observability.SearchesPerformed.Inc()
		observability.SearchDuration.Observe(time.Since(started).Seconds())
	}()

	entry, cached, err := m.cache.Get(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FacesChecked: entry.Len(),
		UsedCache:    cached,
	}
	if entry.Len() == 0 {
		return result, nil
	}
	if len(queryVector) != entry.Dim {
		return nil, errors.New("query vector dimensionality does not match collection")
	}

	query := toFloat64(queryVector)
	best := make(map[string]int) // asset id -> index into result.Matches

	for i := 0; i < entry.Len(); i++ {
		distance := euclideanDistance(query, entry.Row(i))
		if distance > tolerance {
			continue
		}

		assetID := entry.AssetIDs[i]
		if idx, ok := best[assetID]; ok {
			if distance < result.Matches[idx].Distance {
				result.Matches[idx].Distance = distance
				result.Matches[idx].Confidence = confidence(distance)
			}
			continue
		}

		best[assetID] = len(result.Matches)
		result.Matches = append(result.Matches, Match{
			AssetID:    assetID,
			AssetName:  entry.AssetNames[i],
			Distance:   distance,
			Confidence: confidence(distance),
		})
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		return result.Matches[i].Distance < result.Matches[j].Distance
	})
	return result, nil
}

// FindMatchesCosine is the cosine similarity variant. threshold is a
// similarity (higher = stricter); rows with similarity >= threshold match,
// the maximum similarity per asset wins, and matches sort descending. The
// similarity is reported in the Distance field.
func (m *Matcher) FindMatchesCosine(ctx context.Context, collectionID string, queryVector []float32, threshold float64) (*Result, error) {
	started := time.Now()
	defer func() {
		observability.SearchesPerformed.Inc()
		observability.SearchDuration.Observe(time.Since(started).Seconds())
	}()

	entry, cached, err := m.cache.Get(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FacesChecked: entry.Len(),
		UsedCache:    cached,
	}
	if entry.Len() == 0 {
		return result, nil
	}
	if len(queryVector) != entry.Dim {
		return nil, errors.New("query vector dimensionality does not match collection")
	}

	query := normalize(toFloat64(queryVector))
	best := make(map[string]int)

	for i := 0; i < entry.Len(); i++ {
		similarity := dotNormalized(query, entry.Row(i))
		if similarity < threshold {
			continue
		}

		assetID := entry.AssetIDs[i]
		if idx, ok := best[assetID]; ok {
			if similarity > result.Matches[idx].Distance {
				result.Matches[idx].Distance = similarity
			}
			continue
		}

		best[assetID] = len(result.Matches)
		result.Matches = append(result.Matches, Match{
			AssetID:   assetID,
			AssetName: entry.AssetNames[i],
			Distance:  similarity,
		})
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		return result.Matches[i].Distance > result.Matches[j].Distance
	})
	return result, nil
}

// normalize scales a vector to unit length. Zero vectors stay zero.
func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// dotNormalized computes the cosine similarity between an already-normalized
// query and a raw stored row.
func dotNormalized(query []float64, row []float32) float64 {
	var dot, rowNorm float64
	for i, q := range query {
		r := float64(row[i])
		dot += q * r
		rowNorm += r * r
	}
	rowNorm = math.Sqrt(rowNorm)
	if rowNorm == 0 {
		return 0
	}
	return dot / rowNorm
}

// FindMatchesBatch runs the single-query matcher once per vector and merges
// results by asset, keeping the globally best distance per asset. Used when
// the caller supplies several reference photos of the same subject.
func (m *Matcher) FindMatchesBatch(ctx context.Context, collectionID string, queryVectors [][]float32, tolerance float64) (*Result, error) {
	if len(queryVectors) == 0 {
		return nil, errors.New("at least one query vector is required")
	}

	merged := &Result{}
	best := make(map[string]int)

	for _, query := range queryVectors {
		result, err := m.FindMatches(ctx, collectionID, query, tolerance)
		if err != nil {
			return nil, err
		}
		merged.FacesChecked = result.FacesChecked
		merged.UsedCache = result.UsedCache

		for _, match := range result.Matches {
			if idx, ok := best[match.AssetID]; ok {
				if match.Distance < merged.Matches[idx].Distance {
					merged.Matches[idx] = match
				}
				continue
			}
			best[match.AssetID] = len(merged.Matches)
			merged.Matches = append(merged.Matches, match)
		}
	}

	sort.Slice(merged.Matches, func(i, j int) bool {
		return merged.Matches[i].Distance < merged.Matches[j].Distance
	})
	return merged, nil
}

// AverageVector folds several query vectors into their mean, a cheaper
// alternative to batch matching that trades away inter-pose variance.
func AverageVector(queryVectors [][]float32) ([]float32, error) {
	if len(queryVectors) == 0 {
		return nil, errors.New("at least one query vector is required")
	}
	dim := len(queryVectors[0])
	sum := make([]float64, dim)
	for _, v := range queryVectors {
		if len(v) != dim {
			return nil, errors.New("query vectors have mismatched dimensions")
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	avg := make([]float32, dim)
	n := float64(len(queryVectors))
	for i, s := range sum {
		avg[i] = float32(s / n)
	}
	return avg, nil
}
