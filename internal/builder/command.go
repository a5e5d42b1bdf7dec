package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	assetqerrors "github.com/alexisbeaulieu97/assetq/pkg/errors"
)

// CommandID is the id of the command builder.
const CommandID = "command"

const stagingDir = ".staging"

// Command runs the "command" parameter through a shell. Files the command
// writes under $ASSETQ_OUTPUT_DIR become the job's products, in name order.
type Command struct {
	shell string
}

var _ ports.Builder = (*Command)(nil)

// NewCommand creates the command builder using the platform default shell.
func NewCommand() *Command {
	return &Command{}
}

// NewCommandWithShell creates the command builder with an explicit shell.
func NewCommandWithShell(shell string) *Command {
	return &Command{shell: shell}
}

func (c *Command) Metadata() ports.BuilderMetadata {
	return ports.BuilderMetadata{
		ID:          CommandID,
		Version:     "1.0.0",
		Description: "Runs a shell command that writes products into an output directory.",
	}
}

func (c *Command) Build(ctx context.Context, req ports.BuildRequest) (ports.BuildResponse, error) {
	script := strings.TrimSpace(req.Params["command"])
	if script == "" {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, errors.New("command parameter is required"))
	}

	shell, shellArgs, err := determineShell(c.shell)
	if err != nil {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
	}

	if err := os.MkdirAll(filepath.Join(req.OutputDir, stagingDir), 0o755); err != nil {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
	}
	staging, err := os.MkdirTemp(filepath.Join(req.OutputDir, stagingDir), "run-")
	if err != nil {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
	}
	defer os.RemoveAll(staging)

	cmd := exec.CommandContext(ctx, shell, append(shellArgs, script)...)
	cmd.Dir = filepath.Dir(req.SourcePath)
	cmd.Env = append(os.Environ(),
		"ASSETQ_SOURCE="+req.Source,
		"ASSETQ_SOURCE_PATH="+req.SourcePath,
		"ASSETQ_PLATFORM="+req.Platform,
		"ASSETQ_JOB_KEY="+req.JobKey,
		"ASSETQ_OUTPUT_DIR="+staging,
		"ASSETQ_RUN_ID="+req.RunID.String(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ports.BuildResponse{}, ctx.Err()
		}
		if out := primaryOutput(stdout.String(), stderr.String()); out != "" {
			err = fmt.Errorf("%w: %s", err, out)
		}
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
	}

	names, err := collectOutputs(staging)
	if err != nil {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
	}
	if len(names) == 0 {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, errors.New("command produced no output files"))
	}

	products := make([]job.Product, 0, len(names))
	for i, name := range names {
		dst := filepath.Join(req.OutputDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
		}
		if err := os.Rename(filepath.Join(staging, filepath.FromSlash(name)), dst); err != nil {
			return ports.BuildResponse{}, assetqerrors.NewBuilderError(CommandID, err)
		}
		products = append(products, job.Product{
			Name:             name,
			SubID:            uint32(i),
			PathDependencies: req.PathDependencies,
		})
	}

	return ports.BuildResponse{
		Products: products,
		Message:  strings.TrimSpace(stdout.String()),
	}, nil
}

// collectOutputs lists regular files under dir as sorted slash paths.
func collectOutputs(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(names)
	return names, err
}

func determineShell(explicit string) (string, []string, error) {
	if explicit != "" {
		return explicit, []string{"-c"}, nil
	}

	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}, nil
	}

	if path, err := exec.LookPath("bash"); err == nil {
		return path, []string{"-c"}, nil
	}

	if path, err := exec.LookPath("sh"); err == nil {
		return path, []string{"-c"}, nil
	}

	return "", nil, fmt.Errorf("no suitable shell found")
}

func primaryOutput(stdout, stderr string) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	return strings.TrimSpace(stdout)
}
