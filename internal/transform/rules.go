package transform

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/cityingest/internal/record"
)

// GovernorField selects which numeric governor attribute a deployment validates.
type GovernorField string

const (
	GovernorAge    GovernorField = "age"
	GovernorHeight GovernorField = "height"
)

// Default enumerant sets.
var (
	DefaultClimates    = []string{"RAIN_FOREST", "MONSOON", "TUNDRA", "DESERT"}
	DefaultGovernments = []string{"ARISTOCRACY", "GERONTOCRACY", "DICTATORSHIP", "KLEPTOCRACY", "PUPPET_STATE"}
	DefaultStandards   = []string{"HIGH", "MEDIUM", "ULTRA_LOW", "NIGHTMARE"}
)

// Rules is the deployment-specific part of validation.
// Coordinate bounds are exclusive: a value must be strictly greater than MinX/MinY.
type Rules struct {
	MinX          int
	MinY          int
	Climates      []string
	Governments   []string
	Standards     []string
	GovernorField GovernorField
}

// DefaultRules returns the rules of the standard deployment profile.
func DefaultRules() Rules {
	return Rules{
		MinX:          -920,
		MinY:          -142,
		Climates:      DefaultClimates,
		Governments:   DefaultGovernments,
		Standards:     DefaultStandards,
		GovernorField: GovernorAge,
	}
}

// Validate checks that the rules themselves are usable.
func (r Rules) Validate() error {
	var errs []string
	if len(r.Climates) == 0 {
		errs = append(errs, "climate enumerant set is empty")
	}
	if len(r.Standards) == 0 {
		errs = append(errs, "standard-of-living enumerant set is empty")
	}
	if len(r.Governments) == 0 {
		errs = append(errs, "government enumerant set is empty")
	}
	if r.GovernorField != GovernorAge && r.GovernorField != GovernorHeight {
		errs = append(errs, fmt.Sprintf("governor field %q must be age or height", r.GovernorField))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid rules: %s", strings.Join(errs, "; "))
	}
	return nil
}

// enumSet is a normalized lookup built from an enumerant list.
type enumSet struct {
	values []string
	index  map[string]struct{}
}

func newEnumSet(values []string) enumSet {
	s := enumSet{values: make([]string, 0, len(values)), index: make(map[string]struct{}, len(values))}
	for _, v := range values {
		v = record.NormalizeEnum(v)
		if v == "" {
			continue
		}
		if _, dup := s.index[v]; dup {
			continue
		}
		s.index[v] = struct{}{}
		s.values = append(s.values, v)
	}
	return s
}

func (s enumSet) contains(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s enumSet) String() string {
	return "[" + strings.Join(s.values, ", ") + "]"
}
