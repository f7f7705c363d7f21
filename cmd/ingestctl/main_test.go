package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cityingest/internal/importer"
	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/store"
	"github.com/JonMunkholm/cityingest/internal/transform"
)

const cityJSON = `{"name":"%s","coordinates":{"x":%d,"y":%d},"area":10,"population":100,"climate":"DESERT","standardOfLiving":"HIGH"}`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cities.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTransformCmd_CleanFile(t *testing.T) {
	path := writeFile(t, "["+fmt.Sprintf(cityJSON, "A", 1, 1)+","+fmt.Sprintf(cityJSON, "B", 2, 2)+"]")

	out, err := execute(t, "", "transform", path)
	require.NoError(t, err)

	var res record.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Valid, 2)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Stats.Valid)
}

func TestTransformCmd_RejectedBatchExitCode(t *testing.T) {
	path := writeFile(t, "["+fmt.Sprintf(cityJSON, "A", 1, 1)+","+fmt.Sprintf(cityJSON, "A2", 1, 1)+"]")

	out, err := execute(t, "", "transform", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, exitRejected, exitCode(err))

	var res record.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Stats.DuplicatesInFile)
}

func TestTransformCmd_StdinWrappedObject(t *testing.T) {
	out, err := execute(t, `{"cities":[`+fmt.Sprintf(cityJSON, "A", 1, 1)+`]}`, "transform", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"validCities"`)
}

func TestTransformCmd_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"transform", filepath.Join(t.TempDir(), "nope.json")}},
		{"malformed json", []string{"transform", writeFile(t, "[{")}},
		{"empty file", []string{"transform", writeFile(t, "  ")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err))
		})
	}
}

func TestRunImport_WritesAndRejectsRerun(t *testing.T) {
	mem := store.NewMemory()
	engine := transform.NewEngine(transform.DefaultRules())
	raws, err := readRecords(strings.NewReader("["+fmt.Sprintf(cityJSON, "A", 1, 1)+"]"), "-")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runImport(context.Background(), &out, mem, engine, raws, "cli-1"))

	var res importer.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, importer.Result{CorrelationID: "cli-1", Imported: 1}, res)
	assert.Equal(t, 1, mem.Len())
	assert.True(t, mem.Imported("cli-1"))

	// The same city is now a store duplicate.
	out.Reset()
	err = runImport(context.Background(), &out, mem, engine, raws, "cli-2")
	require.Error(t, err)
	assert.Equal(t, exitRejected, exitCode(err))
	assert.Equal(t, 1, mem.Len())
}

func TestSchemaPrint(t *testing.T) {
	out, err := execute(t, "", "schema", "print")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS cities")
	assert.Contains(t, out, "import_batches")
}

func TestTopicEnsure_RejectsBadFlags(t *testing.T) {
	_, err := execute(t, "", "topic", "ensure", "--partitions", "0")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitUsage, exitCode(fmt.Errorf("wrapped: %w", withCode(exitUsage, errors.New("bad")))))
	assert.NoError(t, withCode(exitUsage, nil))
}
