package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/transform"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestRules_FromEnvValues(t *testing.T) {
	vc := &ValidationConfig{MinX: -10, MinY: -20, GovernorField: "HEIGHT"}
	rules, err := vc.Rules()
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	if rules.MinX != -10 || rules.MinY != -20 {
		t.Errorf("bounds = (%d, %d), want (-10, -20)", rules.MinX, rules.MinY)
	}
	if rules.GovernorField != transform.GovernorHeight {
		t.Errorf("GovernorField = %q, want height", rules.GovernorField)
	}
	if len(rules.Climates) != len(transform.DefaultClimates) {
		t.Errorf("Climates = %v, want defaults", rules.Climates)
	}
}

func TestRules_ProfileOverridesEnv(t *testing.T) {
	path := writeProfile(t, `
coordinates:
  minX: 0
climates: [tundra, rain forest]
governorField: height
`)
	vc := &ValidationConfig{MinX: -920, MinY: -142, GovernorField: "age", ProfileFile: path}
	rules, err := vc.Rules()
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	if rules.MinX != 0 {
		t.Errorf("MinX = %d, want 0", rules.MinX)
	}
	if rules.MinY != -142 {
		t.Errorf("MinY = %d, want -142 (not set in profile)", rules.MinY)
	}
	if len(rules.Climates) != 2 {
		t.Errorf("Climates = %v, want 2 entries", rules.Climates)
	}
	if rules.GovernorField != transform.GovernorHeight {
		t.Errorf("GovernorField = %q, want height", rules.GovernorField)
	}
}

func TestRules_ProfileFeedsEngine(t *testing.T) {
	path := writeProfile(t, "standardsOfLiving: [comfortable]\n")
	rules, err := (&ValidationConfig{MinX: -920, MinY: -142, GovernorField: "age", ProfileFile: path}).Rules()
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	raw := record.RawRecord{
		Name:             "Dune",
		Coordinates:      &record.RawCoordinates{X: record.Int(1), Y: record.Int(1)},
		Area:             record.Float(10),
		Population:       record.Int(100),
		Climate:          "desert",
		StandardOfLiving: "comfortable",
	}
	res := transform.NewEngine(rules).Transform([]record.RawRecord{raw}, record.CoordinateSet{})
	if len(res.Errors) != 0 || len(res.Valid) != 1 {
		t.Fatalf("Transform() errors = %v, valid = %d", res.Errors, len(res.Valid))
	}
	if res.Valid[0].StandardOfLiving != "COMFORTABLE" {
		t.Errorf("StandardOfLiving = %q", res.Valid[0].StandardOfLiving)
	}
}

func TestRules_MissingProfile(t *testing.T) {
	vc := &ValidationConfig{GovernorField: "age", ProfileFile: filepath.Join(t.TempDir(), "absent.yaml")}
	if _, err := vc.Rules(); err == nil {
		t.Fatal("Rules() expected error for missing profile file")
	}
}

func TestRules_MalformedProfile(t *testing.T) {
	path := writeProfile(t, "climates: {not: [a list\n")
	vc := &ValidationConfig{GovernorField: "age", ProfileFile: path}
	if _, err := vc.Rules(); err == nil {
		t.Fatal("Rules() expected error for malformed profile")
	}
}

func TestRules_ProfileUnknownGovernorField(t *testing.T) {
	path := writeProfile(t, "governorField: weight\n")
	vc := &ValidationConfig{GovernorField: "age", ProfileFile: path}
	if _, err := vc.Rules(); err == nil {
		t.Fatal("Rules() expected error for unknown governor field")
	}
}
