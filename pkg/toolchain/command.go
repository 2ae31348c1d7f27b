package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
)

const maxOutput = 4096

// CommandToolchain runs an external command per design. Each argument may
// contain {design}, {out} and {device}, replaced by the design JSON path,
// the expected bits file path and the target device.
type CommandToolchain struct {
	Command []string
	// WorkDir holds the per-run temporary directories; empty means os.TempDir.
	WorkDir string
	// Keep leaves the run directories in place for inspection.
	Keep   bool
	Logger *zap.Logger
}

// NewCommandToolchain returns a runner for the given command line.
func NewCommandToolchain(command []string, logger *zap.Logger) (*CommandToolchain, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("toolchain: empty command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandToolchain{Command: command, Logger: logger}, nil
}

// placeholders substitutes the command line variables in one pass, so a
// value that itself holds a placeholder is left as is.
func placeholders(designPath, outPath, device string) *strings.Replacer {
	return strings.NewReplacer(
		"{design}", designPath,
		"{out}", outPath,
		"{device}", device,
	)
}

// Realize writes d to a fresh directory, runs the command and reads back
// the bits file it produced.
func (c *CommandToolchain) Realize(ctx context.Context, d *design.Design) (*bitdiff.Bitstream, error) {
	hash := d.HashString()
	dir, err := os.MkdirTemp(c.WorkDir, "otb-"+hash+"-")
	if err != nil {
		return nil, fmt.Errorf("toolchain: create run dir: %w", err)
	}
	if !c.Keep {
		defer os.RemoveAll(dir)
	}

	designPath := filepath.Join(dir, "design.json")
	outPath := filepath.Join(dir, "out.bits")
	if err := d.Save(designPath); err != nil {
		return nil, fmt.Errorf("toolchain: %w", err)
	}

	vars := placeholders(designPath, outPath, d.Device)
	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = vars.Replace(a)
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &output
	cmd.Stderr = &output

	c.Logger.Debug("running toolchain", zap.String("design", hash), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return nil, &Error{Batch: -1, Run: -1, Design: hash, Output: tail(output.String()), Err: err}
	}
	bs, err := bitdiff.LoadBitsFile(outPath)
	if err != nil {
		return nil, &Error{Batch: -1, Run: -1, Design: hash, Output: tail(output.String()), Err: err}
	}
	return bs, nil
}

func tail(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return "..." + s[len(s)-maxOutput:]
}
