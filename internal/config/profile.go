package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/cityingest/internal/transform"
)

// Profile is a deployment profile file. Every field is optional; an empty
// field keeps the value from the environment or the built-in default.
//
//	coordinates:
//	  minX: -920
//	  minY: -142
//	climates: [RAIN_FOREST, MONSOON, TUNDRA, DESERT]
//	governorField: height
type Profile struct {
	Coordinates struct {
		MinX *int `yaml:"minX"`
		MinY *int `yaml:"minY"`
	} `yaml:"coordinates"`
	Climates      []string `yaml:"climates"`
	Governments   []string `yaml:"governments"`
	Standards     []string `yaml:"standardsOfLiving"`
	GovernorField string   `yaml:"governorField"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Rules builds the validation rules: built-in defaults, then the env values,
// then the profile file named by PROFILE_FILE.
func (c *ValidationConfig) Rules() (transform.Rules, error) {
	rules := transform.DefaultRules()
	rules.MinX = c.MinX
	rules.MinY = c.MinY
	if c.GovernorField != "" {
		rules.GovernorField = transform.GovernorField(strings.ToLower(c.GovernorField))
	}

	if c.ProfileFile != "" {
		p, err := LoadProfile(c.ProfileFile)
		if err != nil {
			return transform.Rules{}, err
		}
		p.apply(&rules)
	}

	if err := rules.Validate(); err != nil {
		return transform.Rules{}, err
	}
	return rules, nil
}

func (p *Profile) apply(r *transform.Rules) {
	if p.Coordinates.MinX != nil {
		r.MinX = *p.Coordinates.MinX
	}
	if p.Coordinates.MinY != nil {
		r.MinY = *p.Coordinates.MinY
	}
	if len(p.Climates) > 0 {
		r.Climates = p.Climates
	}
	if len(p.Governments) > 0 {
		r.Governments = p.Governments
	}
	if len(p.Standards) > 0 {
		r.Standards = p.Standards
	}
	if p.GovernorField != "" {
		r.GovernorField = transform.GovernorField(strings.ToLower(p.GovernorField))
	}
}
