package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/collect"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

const testPlan = `
device "dev"

fuzzer CLB:FF:INIT:1 tiles 0 {
    base inst ff = "FF@CLB"
    fuzz attr ff INIT = "0" -> "1"
}

collect bool CLB:FF:INIT
`

const testTopology = `(topology "dev"
  (tile T0 (kind CLB) (bits 0) (wires A B)))
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// resetFlags restores every flag variable, since cobra keeps them between
// executions of rootCmd. Changed marks are cleared too, or flag group
// checks would see flags from earlier cases.
func resetFlags() {
	unset := func(f *pflag.Flag) { f.Changed = false }
	rootCmd.PersistentFlags().VisitAll(unset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(unset)
	}

	verbose = false
	planSeed, planMaxBatch = 1, 0
	runConfig, runOutput, runDryRun, runWorkers, runMetricsFile, runTimeout = "", "results.json", false, 0, "", 0
	collectResults, collectOutput, collectSexp, collectWorkers, collectAllowLeftover = "results.json", "bitdb.json", "", 4, false
	verifyDB, verifyTopology, verifySkipResidual, verifySharedBits = "bitdb.json", "", false, false
	decodeDB, decodeTopology, decodeKind, decodeAll = "bitdb.json", "", "", false
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// Read in background to prevent pipe buffer from blocking on Windows
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	resetFlags()
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	w.Close()
	os.Stdout = old
	<-done
	return buf.String(), err
}

// TestOfflineE2E exercises the commands that need no toolchain.
func TestOfflineE2E(t *testing.T) {
	dir := t.TempDir()
	planFile := writeFile(t, dir, "clb.plan", testPlan)
	topoDir := filepath.Join(dir, "topo")
	if err := os.Mkdir(topoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, topoDir, "dev.topo", testTopology)

	results := trial.NewResults()
	if err := results.Put(collect.BoolFeature("CLB", "FF", "INIT"), []bitdiff.Diff{bitdiff.DiffOf(bitdiff.BitPos{Bit: 3})}); err != nil {
		t.Fatal(err)
	}
	resultsFile := filepath.Join(dir, "results.json")
	if err := results.Save(resultsFile); err != nil {
		t.Fatal(err)
	}
	dbFile := filepath.Join(dir, "clb.db.json.zst")
	sexpFile := filepath.Join(dir, "clb.db.sexp")

	baseBits := writeFile(t, dir, "base.bits", "0 0 1\n0 0 2\n")
	otherBits := writeFile(t, dir, "other.bits", "# variant\n0 0 2\n0 0 3\n")
	badBits := writeFile(t, dir, "bad.bits", "0 0\n")

	// Cases run in order: collect writes the database the later ones read.
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "plan",
			args: []string{"plan", planFile},
			wantContain: []string{
				"Device:  dev",
				"Fuzzers: 1",
				"Rules:   1",
				"Batches: 1",
				"[0] 1 fuzzer(s), 2 run(s)",
				"Toolchain runs: 2",
			},
		},
		{
			name: "plan verbose lists features",
			args: []string{"plan", "-v", planFile},
			wantContain: []string{
				"CLB:FF:INIT:1",
			},
		},
		{
			name: "collect",
			args: []string{"collect", planFile, "--results", resultsFile, "-o", dbFile, "--sexp", sexpFile},
			wantContain: []string{
				"Keys:    1",
				"CLB",
				"Database saved to:",
			},
		},
		{
			name: "decode single tile",
			args: []string{"decode", "--db", dbFile, "--kind", "CLB", otherBits},
			wantContain: []string{
				"CLB (CLB):",
				"attr:CLB:FF:INIT = 1",
				"? T0:F0:B2",
			},
		},
		{
			name: "decode through topology",
			args: []string{"decode", "--db", dbFile, "--topology", topoDir, otherBits},
			wantContain: []string{
				"T0 (CLB):",
				"attr:CLB:FF:INIT = 1",
			},
		},
		{
			name: "verify",
			args: []string{"verify", "--db", dbFile, "--topology", topoDir},
			wantContain: []string{
				"Device:       dev",
				"Tiles:        1",
				"No conflicts",
			},
		},
		{
			name: "diff",
			args: []string{"diff", baseBits, otherBits},
			wantContain: []string{
				"- T0:F0:B1",
				"+ T0:F0:B3",
				"2 bit(s) differ",
			},
		},
		{
			name:    "diff malformed bits",
			args:    []string{"diff", baseBits, badBits},
			wantErr: true,
		},
		{
			name:    "missing plan",
			args:    []string{"plan", filepath.Join(dir, "nope.plan")},
			wantErr: true,
		},
		{
			name:    "collect without results",
			args:    []string{"collect", planFile, "--results", filepath.Join(dir, "nope.json"), "-o", filepath.Join(dir, "x.json")},
			wantErr: true,
		},
		{
			name:    "verify unknown device",
			args:    []string{"verify", "--db", dbFile, "--topology", t.TempDir()},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v\nOutput: %s", err, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}

	db, err := bitdb.LoadFile(dbFile)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	item, ok := db.Get(bitdb.AttrKey{Tile: "CLB", Block: "FF", Attr: "INIT"})
	if !ok || len(item.Bits) != 1 || item.Bits[0].Pos != (bitdiff.BitPos{Bit: 3}) || item.Bits[0].Inv {
		t.Errorf("collected item = %+v", item)
	}
	sexp, err := os.ReadFile(sexpFile)
	if err != nil || !strings.Contains(string(sexp), `"attr:CLB:FF:INIT"`) {
		t.Errorf("listing: %v\n%s", err, sexp)
	}
}

func TestRunDryRunE2E(t *testing.T) {
	dir := t.TempDir()
	planFile := writeFile(t, dir, "clb.plan", testPlan)
	cfgFile := writeFile(t, dir, "otb.yaml", "device: dev\nworkers: 2\nseed: 3\n")
	otherCfg := writeFile(t, dir, "other.yaml", "device: other\n")
	noTool := writeFile(t, dir, "notool.yaml", "device: dev\n")
	resultsFile := filepath.Join(dir, "results.json")
	metricsFile := filepath.Join(dir, "otb.prom")

	output, err := execute(t, "run", "--config", cfgFile, "--dry-run", planFile,
		"-o", resultsFile, "--metrics-file", metricsFile)
	if err != nil {
		t.Fatalf("Unexpected error: %v\nOutput: %s", err, output)
	}
	for _, want := range []string{
		"Device:  dev",
		"Fuzzers: 1",
		"Workers: 2",
		"Session Summary",
		"Batches:        1",
		"Toolchain runs: 2 (0 cached)",
		"Results saved to:",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
		}
	}

	results, err := trial.LoadResults(resultsFile)
	if err != nil {
		t.Fatalf("LoadResults: %v", err)
	}
	if results.Len() != 1 {
		t.Errorf("results hold %d features, want 1", results.Len())
	}
	metrics, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(metrics), "otb_toolchain_runs_total 2") {
		t.Errorf("metrics:\n%s", metrics)
	}

	if _, err := execute(t, "run", "--config", otherCfg, "--dry-run", planFile, "-o", resultsFile); err == nil {
		t.Error("device mismatch between config and plan must fail")
	}
	if _, err := execute(t, "run", "--config", noTool, planFile, "-o", resultsFile); err == nil {
		t.Error("run without a toolchain command must fail")
	}
}
