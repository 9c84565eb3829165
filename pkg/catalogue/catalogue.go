// Package catalogue resolves abstract image references from the LLM into
// concrete, preloadable descriptors via a scored keyword match against a
// static document loaded at startup.
package catalogue

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"os"
	"strings"
	"sync/atomic"
)

// Entry is one catalogue row, grouped under a collection/category in the
// source document.
type Entry struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	CDNURL   string   `json:"cdn_url"`
	Keywords []string `json:"keywords"`
	Era      string   `json:"era"`
	Category string   `json:"category"`
}

// Descriptor is what the resolver hands back to the conversation pipeline:
// a concrete, renderable image.
type Descriptor struct {
	ID       string `json:"id"`
	CDNURL   string `json:"cdn_url"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Era      string `json:"era"`
}

// Ref is the abstract reference produced by the LLM for a PRELOAD_IMAGE
// timeline action.
type Ref struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
}

// document mirrors the on-disk shape: { "collections": { category: [...] } }.
type document struct {
	Collections map[string][]Entry `json:"collections"`
}

// Catalogue holds an immutable generation of entries. Reload swaps the
// pointer atomically; resolutions in flight keep using whichever generation
// they already observed.
type Catalogue struct {
	path string
	gen  atomic.Pointer[[]Entry]

	// randIndex is overridable in tests to make the random fallback
	// deterministic.
	randIndex func(n int) int
}

const fallbackSampleSize = 3

func New(path string) *Catalogue {
	return &Catalogue{path: path, randIndex: cryptoRandIndex}
}

// Load reads the catalogue document from disk and installs it as the
// current generation. Safe to call concurrently with Resolve.
func (c *Catalogue) Load() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	return c.LoadBytes(raw)
}

// LoadBytes parses raw catalogue JSON directly, useful for tests and for
// Reload callers that already have the bytes in hand.
func (c *Catalogue) LoadBytes(raw []byte) error {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	entries := make([]Entry, 0, 64)
	for _, bucket := range doc.Collections {
		entries = append(entries, bucket...)
	}
	c.gen.Store(&entries)
	return nil
}

// Reload re-reads the document atomically; in-flight resolutions may use
// either the old or the new generation.
func (c *Catalogue) Reload() error {
	return c.Load()
}

func (c *Catalogue) entries() []Entry {
	p := c.gen.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Resolve scores every entry against ref and returns the best match. A
// zero-score input falls back to a uniformly random sample of up to K
// entries, recording a warning via the returned bool.
func (c *Catalogue) Resolve(ref Ref) (Descriptor, bool, error) {
	entries := c.entries()
	if len(entries) == 0 {
		return Descriptor{}, false, errEmptyCatalogue
	}

	search := strings.ToLower(strings.TrimSpace(ref.ID + " " + ref.Title + " " + ref.Category))
	tokens := strings.Fields(search)

	best := -1
	bestScore := 0
	for i, e := range entries {
		score := scoreEntry(e, search, tokens)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	if best >= 0 && bestScore > 0 {
		return toDescriptor(entries[best]), true, nil
	}

	pool := entries
	if len(pool) > fallbackSampleSize {
		pool = sampleEntries(pool, fallbackSampleSize, c.randIndex)
	}
	return toDescriptor(pool[c.randIndex(len(pool))]), false, nil
}

// sampleEntries draws an unbiased random subset of k entries via partial
// Fisher-Yates on a copy of the catalogue, leaving the source slice
// untouched. Used to bound the fallback resolution pool to K entries (§4.5).
func sampleEntries(entries []Entry, k int, randIndex func(n int) int) []Entry {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	for i := 0; i < k; i++ {
		j := i + randIndex(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:k]
}

func scoreEntry(e Entry, search string, tokens []string) int {
	score := 0
	for _, kw := range e.Keywords {
		kwLower := strings.ToLower(kw)
		for _, tok := range tokens {
			if kwLower == tok {
				score += 10
			}
		}
		if strings.Contains(search, kwLower) {
			score += 5
		}
	}
	category := strings.ToLower(e.Category)
	for _, tok := range tokens {
		if category != "" && category == tok {
			score += 3
			break
		}
	}
	if title := strings.ToLower(e.Title); title != "" && strings.Contains(search, title) {
		score += 15
	}
	if id := strings.ToLower(e.ID); id != "" && strings.Contains(search, id) {
		score += 30
	}
	return score
}

func toDescriptor(e Entry) Descriptor {
	return Descriptor{ID: e.ID, CDNURL: e.CDNURL, Title: e.Title, Category: e.Category, Era: e.Era}
}

// SampleSize caps the random fallback pool named in §4.5 (K, default 3);
// exported for callers that want to report "up to K" in diagnostics.
func SampleSize() int { return fallbackSampleSize }

func cryptoRandIndex(n int) int {
	if n <= 1 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

var errEmptyCatalogue = &emptyError{}

type emptyError struct{}

func (*emptyError) Error() string { return "catalogue: no entries loaded" }
