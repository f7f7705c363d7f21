// Package transform turns a raw uploaded batch of cities into a partitioned
// result: normalized records that may be imported, field-level errors, and
// derived statistics.
//
// The engine is pure. The caller fetches the store's existing coordinates once
// and passes that snapshot in, so every row of a batch is checked against the
// same point-in-time view. Rows are processed strictly in input order because
// duplicate tie-breaking (first occurrence wins) depends on it.
package transform

import (
	"fmt"

	"github.com/JonMunkholm/cityingest/internal/record"
)

// Engine runs validation, normalization and deduplication over a batch.
type Engine struct {
	validator *Validator
}

// NewEngine creates an engine for rules.
func NewEngine(rules Rules) *Engine {
	return &Engine{validator: NewValidator(rules)}
}

// Transform processes raws against the existing-coordinates snapshot.
// It never fails: every problem is reported as a ValidationError.
func (e *Engine) Transform(raws []record.RawRecord, existing record.CoordinateSet) record.BatchResult {
	result := record.BatchResult{
		Valid:  make([]record.ValidatedRecord, 0, len(raws)),
		Errors: make([]record.ValidationError, 0),
	}
	detector := NewDetector(existing)
	var inFile, inStore int

	for i, raw := range raws {
		if rowErrs := e.validator.Validate(raw, i); len(rowErrs) > 0 {
			result.Errors = append(result.Errors, rowErrs...)
			continue
		}

		city, err := e.validator.Normalize(raw)
		if err != nil {
			result.Errors = append(result.Errors, record.NewError(i, "record", err.Error()))
			continue
		}

		key := city.Key()
		switch verdict, first := detector.Check(key); verdict {
		case DuplicateInFile:
			inFile++
			result.Errors = append(result.Errors, record.NewError(i, "coordinates",
				fmt.Sprintf("Duplicate coordinates with row %d in this file", first)))
			continue
		case DuplicateInStore:
			inStore++
			result.Errors = append(result.Errors, record.NewError(i, "coordinates",
				"Coordinates already exist in database"))
			continue
		}

		detector.Register(key, i)
		result.Valid = append(result.Valid, city)
	}

	result.Stats = record.Stats{
		Total:             len(raws),
		Valid:             len(result.Valid),
		Invalid:           len(raws) - len(result.Valid),
		Duplicates:        inFile + inStore,
		DuplicatesInFile:  inFile,
		DuplicatesInStore: inStore,
	}
	return result
}
