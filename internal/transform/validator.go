package transform

// validator.go checks raw city rows and normalizes the clean ones.
//
// Every rule is evaluated for every row so a single pass reports all problems
// at once; nothing here aborts early or blocks. Normalize must only be called
// for rows that produced zero errors.

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/JonMunkholm/cityingest/internal/record"
)

// Validator validates and normalizes raw records against a set of Rules.
type Validator struct {
	rules       Rules
	climates    enumSet
	governments enumSet
	standards   enumSet
}

// NewValidator creates a validator for rules.
func NewValidator(rules Rules) *Validator {
	return &Validator{
		rules:       rules,
		climates:    newEnumSet(rules.Climates),
		governments: newEnumSet(rules.Governments),
		standards:   newEnumSet(rules.Standards),
	}
}

// Validate returns every field-level error found in raw. row is the record's
// position in the input batch.
func (v *Validator) Validate(raw record.RawRecord, row int) []record.ValidationError {
	var errs []record.ValidationError
	add := func(field, msg string) {
		errs = append(errs, record.NewError(row, field, msg))
	}

	if strings.TrimSpace(raw.Name) == "" {
		add("name", "Name is required")
	}

	if raw.Coordinates == nil {
		add("coordinates", "Coordinates are required")
	} else {
		v.checkBound(raw.Coordinates.X, "coordinates.x", "X", v.rules.MinX, add)
		v.checkBound(raw.Coordinates.Y, "coordinates.y", "Y", v.rules.MinY, add)
	}

	if !raw.MetersAboveSeaLevel.IsAbsent() {
		if _, err := raw.MetersAboveSeaLevel.Int(); err != nil {
			add("metersAboveSeaLevel", "Invalid number format")
		}
	}

	if area, err := raw.Area.Float(); err != nil {
		add("area", "Area must be a positive number")
	} else if area <= 0 {
		add("area", "Area must be > 0")
	}

	if pop, err := raw.Population.Int(); err != nil {
		add("population", "Population must be a positive integer")
	} else if pop <= 0 {
		add("population", "Population must be > 0")
	}

	checkEnum(raw.Climate, "climate", "Climate", v.climates, true, add)
	checkEnum(raw.StandardOfLiving, "standardOfLiving", "StandardOfLiving", v.standards, true, add)
	checkEnum(raw.Government, "government", "Government", v.governments, false, add)

	if raw.CapitalMalformed() {
		add("capital", "Capital must be true or false")
	}

	if raw.Governor != nil {
		v.checkGovernor(*raw.Governor, add)
	}

	return errs
}

func (v *Validator) checkBound(val record.Value, field, axis string, min int, add func(string, string)) {
	if val.IsAbsent() {
		add(field, axis+" coordinate is required")
		return
	}
	// Coordinates are stored as 32-bit integers.
	n, err := val.Int()
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		add(field, "Invalid number format")
		return
	}
	if n <= int64(min) {
		add(field, fmt.Sprintf("%s must be > %d", axis, min))
	}
}

func checkEnum(raw, field, label string, allowed enumSet, required bool, add func(string, string)) {
	if strings.TrimSpace(raw) == "" {
		if required {
			add(field, label+" is required")
		}
		return
	}
	if !allowed.contains(record.NormalizeEnum(raw)) {
		add(field, fmt.Sprintf("Invalid %s. Valid values: %s", lowerFirst(label), allowed))
	}
}

func (v *Validator) checkGovernor(gov record.RawGovernor, add func(string, string)) {
	switch v.rules.GovernorField {
	case GovernorHeight:
		if gov.Height.IsAbsent() {
			return
		}
		h, err := gov.Height.Float()
		if err != nil {
			add("governor.height", "Invalid number format")
		} else if h <= 0 {
			add("governor.height", "Height must be > 0")
		}
	default:
		if gov.Age.IsAbsent() {
			return
		}
		age, err := gov.Age.Int()
		if err != nil {
			add("governor.age", "Invalid number format")
		} else if age <= 0 {
			add("governor.age", "Age must be > 0")
		}
	}
}

// errNotValidated is returned by Normalize when called on a row that does not
// pass validation.
var errNotValidated = errors.New("normalize called on a record with validation errors")

// Normalize converts a validated raw record into its canonical form.
func (v *Validator) Normalize(raw record.RawRecord) (record.ValidatedRecord, error) {
	if raw.Coordinates == nil {
		return record.ValidatedRecord{}, errNotValidated
	}
	x, errX := raw.Coordinates.X.Int()
	y, errY := raw.Coordinates.Y.Int()
	area, errA := raw.Area.Float()
	pop, errP := raw.Population.Int()
	if err := errors.Join(errX, errY, errA, errP); err != nil {
		return record.ValidatedRecord{}, fmt.Errorf("%w: %v", errNotValidated, err)
	}

	out := record.ValidatedRecord{
		Name:              strings.TrimSpace(raw.Name),
		Coordinates:       record.Coordinates{X: int(x), Y: int(y)},
		Area:              area,
		Population:        pop,
		Climate:           record.NormalizeEnum(raw.Climate),
		StandardOfLiving:  record.NormalizeEnum(raw.StandardOfLiving),
		EstablishmentDate: raw.EstablishmentDate,
	}

	if raw.Capital != nil {
		out.Capital = *raw.Capital
	}

	if !raw.MetersAboveSeaLevel.IsAbsent() {
		if m, err := raw.MetersAboveSeaLevel.Int(); err == nil {
			out.MetersAboveSeaLevel = &m
		}
	}

	if strings.TrimSpace(raw.Government) != "" {
		out.Government = record.NormalizeEnum(raw.Government)
	}

	if raw.Governor != nil {
		gov := &record.Governor{}
		switch v.rules.GovernorField {
		case GovernorHeight:
			if h, err := raw.Governor.Height.Float(); err == nil {
				gov.Height = &h
			}
		default:
			if age, err := raw.Governor.Age.Int(); err == nil {
				gov.Age = &age
			}
		}
		out.Governor = gov
	}

	return out, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
