package ocidist

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ocidist/core"
	"github.com/meigma/ocidist/internal/transfer"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return &Client{
		concurrency:  defaultConcurrency,
		chunkMinSize: defaultChunkMinSize,
		coordinator:  transfer.New(nil),
	}
}

func seedSingleManifest(repo *fakeRepository, tag string) (core.Descriptor, []byte) {
	configDesc := repo.seedBlob([]byte(`{"config":true}`))
	layerDesc := repo.seedBlob([]byte("layer contents"))

	manifest := core.Manifest{
		MediaType: core.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []core.Descriptor{layerDesc},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		panic(err)
	}

	desc := repo.seedBlob(data)
	desc.MediaType = core.MediaTypeImageManifest
	repo.seedManifest(tag, desc, data)
	return desc, data
}

func TestPull_FetchesAndTagsManifest(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	manifestDesc, _ := seedSingleManifest(repo, "v1")

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:v1")
	require.NoError(t, err)

	got, err := c.pull(context.Background(), store, ref, repo, &pullConfig{platform: DefaultPlatform()})
	require.NoError(t, err)
	assert.Equal(t, manifestDesc.Digest, got.Digest)

	resolved, err := store.Resolve(ref.String())
	require.NoError(t, err)
	assert.Equal(t, manifestDesc.Digest, resolved.Digest)

	// the manifest itself must have landed in the store.
	ok, err := store.Exists(manifestDesc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPull_IsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	_, _ = seedSingleManifest(repo, "v1")

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:v1")
	require.NoError(t, err)

	_, err = c.pull(context.Background(), store, ref, repo, &pullConfig{platform: DefaultPlatform()})
	require.NoError(t, err)

	before := repo.fetchCalls.Load()

	_, err = c.pull(context.Background(), store, ref, repo, &pullConfig{platform: DefaultPlatform()})
	require.NoError(t, err)

	assert.Equal(t, before, repo.fetchCalls.Load(), "second pull must not re-fetch any blob already present in store")
}

func TestPull_DedupesSharedLayerDigest(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	configDesc := repo.seedBlob([]byte(`{"config":true}`))
	sharedDesc := repo.seedBlob([]byte("shared layer"))

	manifest := core.Manifest{
		MediaType: core.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []core.Descriptor{sharedDesc, sharedDesc},
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)

	manifestDesc := repo.seedBlob(data)
	manifestDesc.MediaType = core.MediaTypeImageManifest
	repo.seedManifest("v1", manifestDesc, data)

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:v1")
	require.NoError(t, err)

	_, err = c.pull(context.Background(), store, ref, repo, &pullConfig{platform: DefaultPlatform()})
	require.NoError(t, err)

	// config + one shared layer: fetched exactly once each, never twice for
	// the repeated layer digest.
	assert.Equal(t, int64(2), repo.fetchCalls.Load())
}

func TestPull_PlatformSelection(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	amd64Config := repo.seedBlob([]byte(`{"arch":"amd64"}`))
	amd64Layer := repo.seedBlob([]byte("amd64 layer"))
	amd64Manifest := core.Manifest{MediaType: core.MediaTypeImageManifest, Config: amd64Config, Layers: []core.Descriptor{amd64Layer}}
	amd64Data, err := json.Marshal(amd64Manifest)
	require.NoError(t, err)
	amd64Desc := repo.seedBlob(amd64Data)
	amd64Desc.MediaType = core.MediaTypeImageManifest
	amd64Desc.Platform = &core.Platform{OS: "linux", Architecture: "amd64"}
	repo.seedManifest("", amd64Desc, amd64Data)

	armConfig := repo.seedBlob([]byte(`{"arch":"arm64"}`))
	armLayer := repo.seedBlob([]byte("arm64 layer"))
	armManifest := core.Manifest{MediaType: core.MediaTypeImageManifest, Config: armConfig, Layers: []core.Descriptor{armLayer}}
	armData, err := json.Marshal(armManifest)
	require.NoError(t, err)
	armDesc := repo.seedBlob(armData)
	armDesc.MediaType = core.MediaTypeImageManifest
	armDesc.Platform = &core.Platform{OS: "linux", Architecture: "arm64"}
	repo.seedManifest("", armDesc, armData)

	index := core.Index{
		MediaType: core.MediaTypeImageIndex,
		Manifests: []core.Descriptor{amd64Desc, armDesc},
	}
	indexData, err := json.Marshal(index)
	require.NoError(t, err)
	indexDesc := repo.seedBlob(indexData)
	indexDesc.MediaType = core.MediaTypeImageIndex
	repo.seedManifest("multi", indexDesc, indexData)

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:multi")
	require.NoError(t, err)

	got, err := c.pull(context.Background(), store, ref, repo, &pullConfig{
		platform: MatchPlatform("linux", "arm64"),
	})
	require.NoError(t, err)
	assert.Equal(t, armDesc.Digest, got.Digest)
}

func TestPull_UnresolvablePlatformFails(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	configDesc := repo.seedBlob([]byte(`{"arch":"amd64"}`))
	layerDesc := repo.seedBlob([]byte("layer"))
	manifest := core.Manifest{MediaType: core.MediaTypeImageManifest, Config: configDesc, Layers: []core.Descriptor{layerDesc}}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	desc := repo.seedBlob(data)
	desc.MediaType = core.MediaTypeImageManifest
	desc.Platform = &core.Platform{OS: "linux", Architecture: "amd64"}
	repo.seedManifest("", desc, data)

	index := core.Index{MediaType: core.MediaTypeImageIndex, Manifests: []core.Descriptor{desc}}
	indexData, err := json.Marshal(index)
	require.NoError(t, err)
	indexDesc := repo.seedBlob(indexData)
	indexDesc.MediaType = core.MediaTypeImageIndex
	repo.seedManifest("multi", indexDesc, indexData)

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:multi")
	require.NoError(t, err)

	_, err = c.pull(context.Background(), store, ref, repo, &pullConfig{
		platform: MatchPlatform("windows", "amd64"),
	})
	assert.ErrorIs(t, err, core.ErrPlatformNotFound)
}

func TestPull_ReportsProgress(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	seedSingleManifest(repo, "v1")

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:v1")
	require.NoError(t, err)

	var events []ProgressEvent
	_, err = c.pull(context.Background(), store, ref, repo, &pullConfig{
		platform: DefaultPlatform(),
		progress: func(ev ProgressEvent) { events = append(events, ev) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, "pull", last.Operation)
}

// blockingFetcher hands out blob readers that stall until their context is
// canceled, so a test can cancel a pull while its layer transfers are
// mid-flight.
type blockingFetcher struct {
	*fakeRepository
	startedOnce sync.Once
	started     chan struct{}
}

func (f *blockingFetcher) FetchBlob(ctx context.Context, _ core.Descriptor, _ int64) (io.ReadCloser, error) {
	f.startedOnce.Do(func() { close(f.started) })
	return &blockingReader{ctx: ctx}, nil
}

type blockingReader struct {
	ctx context.Context
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func (r *blockingReader) Close() error { return nil }

func TestPull_CanceledContextFailsWithoutTagging(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	seedSingleManifest(repo, "v1")
	fetcher := &blockingFetcher{fakeRepository: repo, started: make(chan struct{})}

	store := newFakeStore()
	c := testClient(t)
	ref, err := core.Parse("registry.example.com/app:v1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, pullErr := c.pull(ctx, store, ref, fetcher, &pullConfig{platform: DefaultPlatform()})
		errCh <- pullErr
	}()

	<-fetcher.started
	cancel()

	err = <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Resolve(ref.String())
	assert.ErrorIs(t, err, core.ErrDescriptorNotFound, "a canceled pull must not tag the manifest")
}
