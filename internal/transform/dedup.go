package transform

import "github.com/JonMunkholm/cityingest/internal/record"

// Verdict is the outcome of a duplicate check.
type Verdict int

const (
	Unique Verdict = iota
	DuplicateInFile
	DuplicateInStore
)

// Detector tracks coordinate keys accepted so far in one batch and consults a
// store snapshot taken before the batch started. It is not safe for concurrent
// use; one Detector serves one sequential transform call.
type Detector struct {
	seen     map[string]int // key -> row that first produced it
	existing record.CoordinateSet
}

// NewDetector creates a detector over the given snapshot. A nil snapshot means
// the store is empty.
func NewDetector(existing record.CoordinateSet) *Detector {
	return &Detector{
		seen:     make(map[string]int),
		existing: existing,
	}
}

// Check classifies key. For DuplicateInFile, firstRow is the row that
// registered the key earlier in this batch.
func (d *Detector) Check(key string) (v Verdict, firstRow int) {
	if row, ok := d.seen[key]; ok {
		return DuplicateInFile, row
	}
	if d.existing.Contains(key) {
		return DuplicateInStore, -1
	}
	return Unique, -1
}

// Register records key as produced by row. The first registration wins.
func (d *Detector) Register(key string, row int) {
	if _, ok := d.seen[key]; !ok {
		d.seen[key] = row
	}
}

// Seen returns how many distinct keys have been registered.
func (d *Detector) Seen() int { return len(d.seen) }
