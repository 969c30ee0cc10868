/**
 * Change Fingerprints
 *
 * Turns the text of a diff item into a fixed-size vector so changes can be
 * indexed in Qdrant and searched across comparison runs. Vectors are
 * hashed character trigrams (signed feature hashing with xxhash),
 * L2-normalised, so cosine similarity tracks shared wording.
 */

package processor

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// DefaultFingerprintDimensions is the vector size used when none is configured
const DefaultFingerprintDimensions = 256

// Fingerprinter generates change vectors
type Fingerprinter struct {
	dims int
}

// NewFingerprinter creates a fingerprinter producing vectors of the given size
func NewFingerprinter(dims int) (*Fingerprinter, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("fingerprint dimensions must be positive, got %d", dims)
	}
	return &Fingerprinter{dims: dims}, nil
}

// Dimensions returns the vector size
func (f *Fingerprinter) Dimensions() int { return f.dims }

// Fingerprint returns the normalised trigram vector of text
func (f *Fingerprinter) Fingerprint(text string) ([]float32, error) {
	runes := normalizeForFingerprint(text)
	if len(runes) == 0 {
		return nil, fmt.Errorf("text is required")
	}

	// pad so that single characters and word edges still form trigrams
	padded := make([]rune, 0, len(runes)+2)
	padded = append(padded, ' ')
	padded = append(padded, runes...)
	padded = append(padded, ' ')

	vec := make([]float64, f.dims)
	for i := 0; i+3 <= len(padded); i++ {
		h := xxhash.Sum64String(string(padded[i : i+3]))
		idx := int(h % uint64(f.dims))
		if h&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, f.dims)
	if norm == 0 {
		// every trigram cancelled out; fall back to a unit vector so cosine stays defined
		out[0] = 1
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// FingerprintItems returns one vector per diff item, in order
func (f *Fingerprinter) FingerprintItems(items []diff.DiffItem) ([][]float32, error) {
	vectors := make([][]float32, len(items))
	for i, item := range items {
		v, err := f.Fingerprint(ChangeText(item))
		if err != nil {
			return nil, fmt.Errorf("diff item %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// ChangeText is the text a change is indexed by: the removed and added
// text, each side present only when the item has it.
func ChangeText(item diff.DiffItem) string {
	var parts []string
	if item.TextA != nil {
		parts = append(parts, *item.TextA)
	}
	if item.TextB != nil {
		parts = append(parts, *item.TextB)
	}
	return strings.Join(parts, "\n")
}

func normalizeForFingerprint(text string) []rune {
	var out []rune
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			space = len(out) > 0
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, r)
	}
	return out
}
