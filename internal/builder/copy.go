package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	assetqerrors "github.com/alexisbeaulieu97/assetq/pkg/errors"
)

// CopyID is the id of the copy builder.
const CopyID = "copy"

// Copy writes the source unchanged into the platform cache. The "output"
// parameter renames the product; "extension" replaces its extension.
type Copy struct{}

var _ ports.Builder = (*Copy)(nil)

// NewCopy creates the copy builder.
func NewCopy() *Copy {
	return &Copy{}
}

func (c *Copy) Metadata() ports.BuilderMetadata {
	return ports.BuilderMetadata{
		ID:          CopyID,
		Version:     "1.0.0",
		Description: "Copies the source into the platform cache.",
	}
}

func (c *Copy) Build(ctx context.Context, req ports.BuildRequest) (ports.BuildResponse, error) {
	if err := ctx.Err(); err != nil {
		return ports.BuildResponse{}, err
	}

	name := ProductName(req.Source, req.Params)
	dst := filepath.Join(req.OutputDir, filepath.FromSlash(name))
	if err := copyFile(req.SourcePath, dst); err != nil {
		return ports.BuildResponse{}, assetqerrors.NewBuilderError(CopyID, err)
	}

	return ports.BuildResponse{
		Products: []job.Product{{
			Name:             name,
			SubID:            0,
			PathDependencies: req.PathDependencies,
		}},
		Message: fmt.Sprintf("copied %s to %s", req.Source, name),
	}, nil
}

// ProductName returns the cache-relative product name the copy builder
// writes for source under params.
func ProductName(source string, params map[string]string) string {
	name := strings.ToLower(strings.ReplaceAll(source, `\`, "/"))
	if output := strings.TrimSpace(params["output"]); output != "" {
		name = strings.ToLower(strings.ReplaceAll(output, `\`, "/"))
	}
	if ext := strings.TrimSpace(params["extension"]); ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		name = strings.TrimSuffix(name, path.Ext(name)) + strings.ToLower(ext)
	}
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".assetq-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
