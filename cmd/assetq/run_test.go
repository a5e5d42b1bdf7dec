package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type project struct {
	dir      string
	config   string
	manifest string
}

func newProject(t *testing.T, manifest string) project {
	t.Helper()
	dir := t.TempDir()
	assets := filepath.Join(dir, "assets", "textures")
	require.NoError(t, os.MkdirAll(assets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "a.png"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "b.png"), []byte("bravo"), 0o644))

	cfg := filepath.Join(dir, "assetq.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
max_jobs: 2
platforms:
  - name: pc
    host: true
scan_folders:
  - path: assets
cache_root: cache
database_path: db/assetq.db
log:
  level: warn
  human_readable: false
wait:
  poll_interval: 5ms
  lock_timeout: 200ms
  fingerprint_timeout: 200ms
shutdown_poll_interval: 5ms
shutdown_timeout: 2s
`), 0o644))

	m := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(m, []byte(manifest), 0o644))
	return project{dir: dir, config: cfg, manifest: m}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const twoTextures = `
jobs:
  - source: textures/a.png
    builder: copy
    path_dependencies:
      - path: textures/b.png
  - source: textures/b.png
    builder: copy
`

func TestRunBuildsAndCatalogsManifest(t *testing.T) {
	p := newProject(t, twoTextures)

	out, err := execute(t, "--config", p.config, "run", "--manifest", p.manifest)
	require.NoError(t, err)
	require.Contains(t, out, "completed: 2, failed: 0")

	copied, err := os.ReadFile(filepath.Join(p.dir, "cache", "pc", "textures", "a.png"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(copied))

	out, err = execute(t, "--config", p.config, "deps", "pc/textures/a.png")
	require.NoError(t, err)
	require.Contains(t, out, "-> pc/textures/b.png")
}

func TestRunReportsFailedJobs(t *testing.T) {
	p := newProject(t, `
jobs:
  - source: textures/missing.png
    builder: copy
`)

	out, err := execute(t, "--config", p.config, "run", "--manifest", p.manifest)
	require.EqualError(t, err, "1 job(s) failed")
	require.Contains(t, out, "failed: 1")
	require.Contains(t, out, "textures/missing.png")
}

func TestRunWatchWithoutTerminalPrintsView(t *testing.T) {
	p := newProject(t, twoTextures)

	out, err := execute(t, "--config", p.config, "run", "--watch", "--manifest", p.manifest)
	require.NoError(t, err)
	require.Contains(t, out, "assetq •")
	require.Contains(t, out, "All jobs finished")
}

func TestRunRequiresManifest(t *testing.T) {
	p := newProject(t, twoTextures)
	_, err := execute(t, "--config", p.config, "run")
	require.Error(t, err)
}

func TestDepsUnknownProduct(t *testing.T) {
	p := newProject(t, twoTextures)
	_, err := execute(t, "--config", p.config, "deps", "pc/nothing.dds")
	require.ErrorContains(t, err, "no product named")
}

func TestConfigValidate(t *testing.T) {
	p := newProject(t, twoTextures)
	out, err := execute(t, "--config", p.config, "config", "validate")
	require.NoError(t, err)
	require.Contains(t, out, "configuration valid: 1 platform(s), 1 scan folder(s), 2 concurrent job(s)")
	require.Contains(t, out, "host platform: pc")
}

func TestValidateFilePath(t *testing.T) {
	require.Error(t, validateFilePath("config", ""))
	require.Error(t, validateFilePath("config", t.TempDir()))
	require.Error(t, validateFilePath("config", filepath.Join(t.TempDir(), "missing.yaml")))
}
