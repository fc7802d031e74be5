// Package facility resolves free-text facility names against a lookup table.
//
// The table is an explicit Directory value owned by the caller. It is loaded
// lazily from a Source and only changes on Reload or Invalidate.
package facility

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const DefaultThreshold = 0.6

var ErrNoSource = errors.New("facility directory has no source")

// Source returns the full facility table.
type Source interface {
	Load(ctx context.Context) ([]*model.Facility, error)
}

type SourceFunc func(ctx context.Context) ([]*model.Facility, error)

func (f SourceFunc) Load(ctx context.Context) ([]*model.Facility, error) {
	return f(ctx)
}

type entry struct {
	facility   *model.Facility
	normalized string
	tokens     map[string]struct{}
}

type Directory struct {
	source    Source
	threshold float64

	mu      sync.RWMutex
	entries []entry
	loaded  bool
}

func NewDirectory(source Source, threshold float64) *Directory {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Directory{source: source, threshold: threshold}
}

// Reload replaces the table with a fresh copy from the source.
func (d *Directory) Reload(ctx context.Context) error {
	if d.source == nil {
		return ErrNoSource
	}
	facilities, err := d.source.Load(ctx)
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(facilities))
	for _, f := range facilities {
		if f == nil || strings.TrimSpace(f.Name) == "" {
			continue
		}
		n := Normalize(f.Name)
		entries = append(entries, entry{facility: f, normalized: n, tokens: tokenSet(n)})
	}

	d.mu.Lock()
	d.entries = entries
	d.loaded = true
	d.mu.Unlock()

	logger.Info("Facility directory loaded", "facilities", len(entries))
	return nil
}

// Invalidate drops the table; the next Resolve reloads it.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.entries = nil
	d.loaded = false
	d.mu.Unlock()
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Resolve matches name against the table. An exact match after normalization
// wins; otherwise the first facility in table order whose score reaches the
// threshold is returned, even if a later one scores the same.
func (d *Directory) Resolve(ctx context.Context, name string) (*model.Facility, bool) {
	n := Normalize(name)
	if n == "" {
		return nil, false
	}

	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if !loaded {
		if err := d.Reload(ctx); err != nil {
			logger.Warn("Facility directory reload failed", "error", err)
			return nil, false
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		if e.normalized == n {
			return e.facility, true
		}
	}

	tokens := tokenSet(n)
	for _, e := range d.entries {
		if Score(tokens, e.tokens) >= d.threshold {
			return e.facility, true
		}
	}
	return nil, false
}

// stripMarks builds a fresh chain per call. A transform.Chain keeps buffers
// between calls and must not be shared across goroutines.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Normalize lowercases, removes diacritics and collapses everything that is
// not a letter or digit into single spaces.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks(), s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(normalized) {
		set[t] = struct{}{}
	}
	return set
}

// Score is the Dice coefficient of two token sets. A name whose tokens are all
// contained in the other scores at least 0.9.
func Score(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for t := range a {
		if _, ok := b[t]; ok {
			common++
		}
	}
	score := 2 * float64(common) / float64(len(a)+len(b))
	if (common == len(a) || common == len(b)) && score < 0.9 {
		score = 0.9
	}
	return score
}
