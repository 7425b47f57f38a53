package match

import (
	"math"
	"sort"

	"github.com/your-org/facegate/internal/models"
)

// Metric identifies the distance function used to compare signatures.
// Thresholds are calibrated per metric: Euclidean distances between
// normalized embeddings live in [0, 2], cosine distances in [0, 2] with a
// much tighter genuine-pair band.
type Metric string

const (
	MetricEuclidean Metric = "euclidean"
	MetricCosine    Metric = "cosine"
)

// DefaultThreshold is the distance cutoff applied when a caller does not
// supply one. Calibrated for Euclidean distance over 128-dim encodings.
const DefaultThreshold = 0.6

// DistanceFunc returns the distance between two vectors of equal length.
type DistanceFunc func(a, b []float32) float64

// Euclidean is the L2 distance.
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine is 1 minus the cosine similarity. Zero-norm vectors are treated as
// maximally distant from everything.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Matcher compares a probe signature against a gallery snapshot. It performs
// no I/O and holds no mutable state, so one value serves all goroutines.
type Matcher struct {
	distance DistanceFunc
	scale    float64
}

// New builds a Matcher for the given metric. scale is the distance at which
// reported confidence reaches zero; non-positive values fall back to 1.0,
// which reproduces the classic "confidence = 1 - distance" percentage.
func New(metric Metric, scale float64) *Matcher {
	fn := Euclidean
	if metric == MetricCosine {
		fn = Cosine
	}
	if scale <= 0 {
		scale = 1.0
	}
	return &Matcher{distance: fn, scale: scale}
}

// Confidence maps a distance to a percentage in [0, 100]. It is 100 at
// distance zero, falls linearly, and clamps at zero once distance reaches
// the matcher's scale.
func (m *Matcher) Confidence(distance float64) float64 {
	c := 100 * (1 - distance/m.scale)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Verify compares the probe against every signature of every identity and
// returns a deterministic result. The contract:
//
//   - nil or empty probe: no_face_detected (the encoder found nothing).
//   - matched if and only if the minimal distance is strictly below the
//     threshold; the nearest identity is reported either way so a near miss
//     stays diagnosable.
//   - signatures whose dimension differs from the probe are skipped and
//     counted, never compared.
//   - ties on minimal distance resolve to the lowest identity key.
//   - an empty gallery, or one with no comparable signature, is no_match.
//
// Identical inputs always produce identical results; Verify never mutates
// the gallery.
func (m *Matcher) Verify(probe []float32, gallery map[string][][]float32, threshold float64) models.MatchResult {
	res := models.MatchResult{
		Decision:  models.DecisionNoMatch,
		Threshold: threshold,
	}
	if len(probe) == 0 {
		res.Decision = models.DecisionNoFaceDetected
		return res
	}

	keys := make([]string, 0, len(gallery))
	for k := range gallery {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := math.Inf(1)
	nearest := ""
	for _, id := range keys {
		for _, sig := range gallery[id] {
			if len(sig) != len(probe) {
				res.Skipped++
				continue
			}
			// Strict less keeps the lowest key on equal distances
			// because keys are visited in sorted order.
			if d := m.distance(probe, sig); d < best {
				best = d
				nearest = id
			}
		}
	}
	if nearest == "" {
		return res
	}

	res.Nearest = nearest
	res.Distance = best
	res.Confidence = m.Confidence(best)
	if best < threshold {
		res.Decision = models.DecisionMatched
		res.Identity = nearest
	}
	return res
}
