// Package record defines the shapes shared by every stage of the city
// ingestion pipeline: the raw upload row, field-level validation errors,
// the normalized record and the per-batch result.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Severity classifies a ValidationError.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// RawRecord is one uploaded city as received. Nothing about it is trusted.
type RawRecord struct {
	Name                string          `json:"name"`
	Coordinates         *RawCoordinates `json:"coordinates"`
	Area                Value           `json:"area"`
	Population          Value           `json:"population"`
	Capital             *bool           `json:"capital"`
	MetersAboveSeaLevel Value           `json:"metersAboveSeaLevel"`
	Climate             string          `json:"climate"`
	Government          string          `json:"government"`
	StandardOfLiving    string          `json:"standardOfLiving"`
	Governor            *RawGovernor    `json:"governor"`
	EstablishmentDate   string          `json:"establishmentDate,omitempty"`

	badCapital string
}

// CapitalMalformed reports whether capital was sent as something other than a
// boolean or "true"/"false".
func (r RawRecord) CapitalMalformed() bool { return r.badCapital != "" }

// UnmarshalJSON decodes an uploaded row without failing on mistyped scalars.
// Non-string values for the text fields are kept as their raw literal, and a
// capital that is not a boolean is remembered for validation.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	type plain RawRecord
	var aux struct {
		*plain
		Name             json.RawMessage `json:"name"`
		Capital          json.RawMessage `json:"capital"`
		Climate          json.RawMessage `json:"climate"`
		Government       json.RawMessage `json:"government"`
		StandardOfLiving json.RawMessage `json:"standardOfLiving"`
	}
	*r = RawRecord{}
	aux.plain = (*plain)(r)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Name = looseText(aux.Name)
	r.Climate = looseText(aux.Climate)
	r.Government = looseText(aux.Government)
	r.StandardOfLiving = looseText(aux.StandardOfLiving)
	r.Capital, r.badCapital = looseBool(aux.Capital)
	return nil
}

func looseText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func looseBool(raw json.RawMessage) (*bool, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ""
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return &b, ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			b = true
			return &b, ""
		case "false":
			return &b, ""
		}
	}
	return nil, string(raw)
}

// RawCoordinates holds the untyped coordinate pair.
type RawCoordinates struct {
	X Value `json:"x"`
	Y Value `json:"y"`
}

// RawGovernor holds the untyped governor sub-record. Which field is meaningful
// depends on the deployment profile.
type RawGovernor struct {
	Age    Value `json:"age"`
	Height Value `json:"height"`
}

// ValidationError is a single field-level problem found in an input row.
type ValidationError struct {
	RowIndex int      `json:"rowIndex" msgpack:"rowIndex"`
	Field    string   `json:"field" msgpack:"field"`
	Message  string   `json:"message" msgpack:"message"`
	Severity Severity `json:"severity" msgpack:"severity"`
}

// NewError builds an ERROR-severity ValidationError.
func NewError(row int, field, message string) ValidationError {
	return ValidationError{RowIndex: row, Field: field, Message: message, Severity: SeverityError}
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.RowIndex, e.Field, e.Message)
}

// Coordinates is the validated coordinate pair.
type Coordinates struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Key returns the canonical coordinate key used for deduplication.
func (c Coordinates) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

// Governor is the validated governor sub-record. Exactly one field is set,
// according to the deployment profile.
type Governor struct {
	Age    *int64   `json:"age,omitempty" msgpack:"age,omitempty"`
	Height *float64 `json:"height,omitempty" msgpack:"height,omitempty"`
}

// ValidatedRecord is a normalized city. It is immutable once produced.
type ValidatedRecord struct {
	Name                string      `json:"name" msgpack:"name"`
	Coordinates         Coordinates `json:"coordinates" msgpack:"coordinates"`
	Area                float64     `json:"area" msgpack:"area"`
	Population          int64       `json:"population" msgpack:"population"`
	Capital             bool        `json:"capital" msgpack:"capital"`
	MetersAboveSeaLevel *int64      `json:"metersAboveSeaLevel,omitempty" msgpack:"metersAboveSeaLevel,omitempty"`
	Climate             string      `json:"climate" msgpack:"climate"`
	Government          string      `json:"government,omitempty" msgpack:"government,omitempty"`
	StandardOfLiving    string      `json:"standardOfLiving" msgpack:"standardOfLiving"`
	Governor            *Governor   `json:"governor,omitempty" msgpack:"governor,omitempty"`
	EstablishmentDate   string      `json:"establishmentDate,omitempty" msgpack:"establishmentDate,omitempty"`
}

// Key returns the record's coordinate key.
func (r ValidatedRecord) Key() string { return r.Coordinates.Key() }

// Stats summarizes a transform run. All counts are derived from the result.
type Stats struct {
	Total             int `json:"totalRecords" msgpack:"totalRecords"`
	Valid             int `json:"validRecords" msgpack:"validRecords"`
	Invalid           int `json:"invalidRecords" msgpack:"invalidRecords"`
	Duplicates        int `json:"duplicates" msgpack:"duplicates"`
	DuplicatesInFile  int `json:"duplicatesInFile" msgpack:"duplicatesInFile"`
	DuplicatesInStore int `json:"duplicatesInStore" msgpack:"duplicatesInStore"`
}

// BatchResult is the partitioned output of one transform call.
type BatchResult struct {
	Valid  []ValidatedRecord `json:"validCities"`
	Errors []ValidationError `json:"errors"`
	Stats  Stats             `json:"stats"`
}

// Publishable reports whether the result satisfies the all-or-nothing rule:
// no validation errors and at least one valid record.
func (r BatchResult) Publishable() bool {
	return len(r.Errors) == 0 && len(r.Valid) > 0
}

// CoordinateSet is a point-in-time snapshot of coordinate keys.
type CoordinateSet map[string]struct{}

// NewCoordinateSet builds a set from coordinate pairs.
func NewCoordinateSet(coords ...Coordinates) CoordinateSet {
	set := make(CoordinateSet, len(coords))
	for _, c := range coords {
		set.Add(c)
	}
	return set
}

// Add inserts a coordinate pair.
func (s CoordinateSet) Add(c Coordinates) { s[c.Key()] = struct{}{} }

// Contains reports whether key is present. A nil set contains nothing.
func (s CoordinateSet) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// NormalizeEnum trims, uppercases and replaces spaces with underscores.
func NormalizeEnum(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_")
}
