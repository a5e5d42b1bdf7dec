package build

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/assetq/internal/controller"
	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/store/sqlite"
	"github.com/alexisbeaulieu97/assetq/internal/pathdeps"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/wait"
)

const scanFolder = "/projects/game"

var idle = wait.Policy{Interval: 5 * time.Millisecond, MaxDuration: 5 * time.Second}

// outputs maps a source to the products its job reports.
type outputs map[string][]job.Product

func (o outputs) Run(ctx context.Context, run job.Run) job.Result {
	if run.Details.AutoFail {
		return job.Failed(errors.New(run.Details.FailureReason))
	}
	products, ok := o[run.Details.Source]
	if !ok {
		return job.Failed(errors.New("no outputs configured"))
	}
	return job.Completed(products)
}

type harness struct {
	service   *Service
	store     *sqlite.Store
	publisher *events.LoggingPublisher
}

func newHarness(t *testing.T, runner controller.Runner) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "assetq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	publisher := events.NewLoggingPublisher(logging.NewNoOpLogger())
	ctrl, err := controller.New(runner, controller.WithEvents(publisher), controller.WithMaxJobs(2))
	require.NoError(t, err)

	resolver := pathdeps.New(store, pathdeps.WithEvents(publisher))
	svc, err := NewService(ctrl, store, resolver, publisher)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	_, err = svc.RegisterScanFolder(context.Background(), scanFolder, "game")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = ctrl.Run(ctx) }()
	go func() { _ = svc.Run(ctx) }()

	return &harness{service: svc, store: store, publisher: publisher}
}

func details(source, builder string, expected ...string) job.Details {
	return job.Details{
		Source:           source,
		SourceUUID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)),
		ScanFolder:       scanFolder,
		Platform:         "pc",
		JobKey:           builder,
		BuilderID:        builder,
		ExpectedProducts: expected,
	}
}

func TestCatalogResolvesDependenciesAcrossJobs(t *testing.T) {
	runner := outputs{
		"textures/a.png": {{
			Name:             "materials/a.mat",
			PathDependencies: []pathdep.Dependency{{Path: "materials/b.mat", Type: pathdep.TypeProductFile}},
		}},
		"textures/b.png": {{Name: "materials/b.mat"}},
	}
	h := newHarness(t, runner)
	ctx := context.Background()

	results, err := h.service.SubmitBatch(ctx, []job.Details{
		details("textures/a.png", "copy"),
		details("textures/b.png", "copy"),
	})
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, controller.SubmitQueued, r.Status)
	}
	require.NoError(t, h.service.WaitIdle(ctx, idle))

	products, err := h.store.ProductsByName(ctx, "pc/materials/a.mat", "pc")
	require.NoError(t, err)
	require.Len(t, products, 1)

	deps, err := h.store.GetProductDependencies(ctx, products[0].ID)
	require.NoError(t, err)
	require.Len(t, deps, 1, "one resolved edge and no placeholder")
	assert.True(t, deps[0].Resolved())
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("textures/b.png")), deps[0].DependencySourceUUID)

	summary := h.service.Summary()
	assert.Equal(t, 2, summary.Completed)
	assert.Zero(t, summary.Failed)
}

func TestCatalogKeepsPlaceholderUntilTargetExists(t *testing.T) {
	runner := outputs{
		"levels/one.lvl": {{
			Name:             "levels/one.bin",
			PathDependencies: []pathdep.Dependency{{Path: "levels/missing.bin"}},
		}},
	}
	h := newHarness(t, runner)
	ctx := context.Background()

	stream, err := events.NewStream(h.publisher, ports.EventProductsCataloged)
	require.NoError(t, err)
	defer stream.Close()

	_, err = h.service.SubmitBatch(ctx, []job.Details{details("levels/one.lvl", "copy")})
	require.NoError(t, err)
	require.NoError(t, h.service.WaitIdle(ctx, idle))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err := stream.WaitFor(waitCtx, ports.EventProductsCataloged, nil)
	require.NoError(t, err)
	payload := ev.Payload().(ports.CatalogEvent)
	assert.Equal(t, 1, payload.Products)
	assert.Zero(t, payload.Resolved)
	assert.Equal(t, 1, payload.Deferred)

	products, err := h.store.ProductsByName(ctx, "pc/levels/one.bin", "pc")
	require.NoError(t, err)
	require.Len(t, products, 1)
	deps, err := h.store.GetProductDependencies(ctx, products[0].ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "levels/missing.bin", deps[0].UnresolvedPath)
}

func TestFailedJobsAreNotCataloged(t *testing.T) {
	h := newHarness(t, outputs{})
	ctx := context.Background()

	_, err := h.service.SubmitBatch(ctx, []job.Details{details("broken.png", "copy")})
	require.NoError(t, err)
	require.NoError(t, h.service.WaitIdle(ctx, idle))

	summary := h.service.Summary()
	require.Eventually(t, func() bool { return h.service.Summary().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, summary.Completed)

	products, err := h.store.ProductsBySource(ctx, uuid.NewSHA1(uuid.NameSpaceURL, []byte("broken.png")), "")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestSubmitBatchFailsDuplicateExpectedProducts(t *testing.T) {
	first := details("shared.fbx", "mesh", "shared.mesh")
	first.JobKey = "lod0"
	second := details("shared.fbx", "mesh", "Shared.mesh")
	second.JobKey = "lod1"
	other := details("shared.fbx", "copy", "shared.mesh")

	otherPlatform := details("shared.fbx", "mesh", "shared.mesh")
	otherPlatform.Platform = "android"
	otherSource := details("other.fbx", "mesh", "shared.mesh")

	out := flagDuplicateProducts([]job.Details{first, second, other, otherPlatform, otherSource})
	require.Len(t, out, 5)
	assert.True(t, out[0].AutoFail)
	assert.True(t, out[1].AutoFail)
	assert.True(t, out[2].AutoFail, "a different builder of the same source collides too")
	assert.Contains(t, out[0].FailureReason, "lod0")
	assert.Contains(t, out[0].FailureReason, "lod1")
	assert.Equal(t, out[0].FailureReason, out[1].FailureReason)
	assert.Contains(t, out[2].FailureReason, "copy")
	assert.False(t, out[3].AutoFail, "platforms do not share products")
	assert.False(t, out[4].AutoFail, "sources do not share products")
	assert.False(t, first.AutoFail, "input batch is left untouched")
}

func TestSubmitBatchFlagsDuplicatesAcrossBuilders(t *testing.T) {
	a := details("a.txt", "copy", "test1.txt")
	a.JobKey = "k1"
	b := details("a.txt", "command", "test1.txt")
	b.JobKey = "k2"

	out := flagDuplicateProducts([]job.Details{a, b})
	assert.True(t, out[0].AutoFail)
	assert.True(t, out[1].AutoFail)
}

func TestCatalogFailsProductClaimedByAnotherJobKey(t *testing.T) {
	h := newHarness(t, outputs{"a.txt": {{Name: "test1.txt"}}})
	ctx := context.Background()

	// Neither job declares its products, so only the catalog can see the clash.
	_, err := h.service.SubmitBatch(ctx, []job.Details{
		details("a.txt", "copy"),
		details("a.txt", "command"),
	})
	require.NoError(t, err)
	require.NoError(t, h.service.WaitIdle(ctx, idle))

	require.Eventually(t, func() bool { return h.service.Summary().Failed == 1 }, time.Second, 5*time.Millisecond)
	summary := h.service.Summary()
	assert.Equal(t, 2, summary.Completed)
	assert.Contains(t, summary.Failures[0].Message, "test1.txt")
	assert.Equal(t, "a.txt", summary.Failures[0].Identity.Source)

	products, err := h.store.ProductsByName(ctx, "pc/test1.txt", "pc")
	require.NoError(t, err)
	require.Len(t, products, 1, "only the first job registers the product")
}

func TestProductCollisionIgnoresOwnJobKey(t *testing.T) {
	existing := []pathdep.Product{
		{Name: "pc/test1.txt", JobKey: "k1"},
		{Name: "pc/test2.txt", JobKey: "k2"},
	}
	_, _, clash := productCollision(existing, "K1", []pathdep.Product{{Name: "pc/Test1.txt"}})
	assert.False(t, clash)

	owner, name, clash := productCollision(existing, "k1", []pathdep.Product{{Name: "pc/test1.txt"}, {Name: "pc/TEST2.txt"}})
	require.True(t, clash)
	assert.Equal(t, "k2", owner.JobKey)
	assert.Equal(t, "pc/TEST2.txt", name)
}

func TestSubmitBatchRunsDuplicatesAsFailures(t *testing.T) {
	h := newHarness(t, outputs{"dup.fbx": {{Name: "dup.mesh"}}})
	ctx := context.Background()

	a := details("dup.fbx", "mesh", "dup.mesh")
	a.JobKey = "a"
	b := details("dup.fbx", "mesh", "dup.mesh")
	b.JobKey = "b"
	_, err := h.service.SubmitBatch(ctx, []job.Details{a, b})
	require.NoError(t, err)
	require.NoError(t, h.service.WaitIdle(ctx, idle))

	require.Eventually(t, func() bool { return h.service.Summary().Failed == 2 }, time.Second, 5*time.Millisecond)
	for _, failure := range h.service.Summary().Failures {
		assert.True(t, strings.Contains(failure.Message, "dup.mesh"), failure.Message)
	}
}

func TestFolderKeyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, folderKey("/Projects/Game/"), folderKey("/projects/game"))
}
