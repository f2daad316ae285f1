package ocidist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/ocidist/core"
	"github.com/meigma/ocidist/internal/contracts"
)

// Pull resolves refStr against the registry, traverses the manifest graph,
// and publishes every blob (manifest, config, layers) into store:
//
//  1. resolve the reference to a manifest descriptor, selecting a platform
//     entry if it names a multi-platform index;
//  2. fetch and publish the manifest blob itself;
//  3. fan out bounded-concurrency transfers of {config} ∪ layers, each
//     deduplicated through the Client's TransferCoordinator;
//  4. tag the manifest descriptor in store under refStr;
//  5. verify the tag round-trips before returning.
//
// A second Pull of the same reference is idempotent: every blob's Exists
// check hits and no blob is fetched again; the manifest is still resolved
// and fetched from the registry.
func (c *Client) Pull(ctx context.Context, store contracts.Store, refStr string, opts ...PullOption) (core.Descriptor, error) {
	cfg := &pullConfig{platform: DefaultPlatform()}
	for _, opt := range opts {
		opt(cfg)
	}

	ref, err := core.Parse(refStr)
	if err != nil {
		return core.Descriptor{}, err
	}

	repo, err := c.repository(ref)
	if err != nil {
		return core.Descriptor{}, err
	}

	return c.pull(ctx, store, ref, repo, cfg)
}

// pull runs Pull's orchestration against an already-resolved Fetcher,
// separated out so tests can exercise it against a fake registry client
// without a network connection.
func (c *Client) pull(ctx context.Context, store contracts.Store, ref core.Reference, repo contracts.Fetcher, cfg *pullConfig) (core.Descriptor, error) {
	manifestDesc, err := repo.ResolveManifest(ctx, ref.Reference, cfg.platform)
	if err != nil {
		return core.Descriptor{}, fmt.Errorf("resolve %s: %w", ref.String(), err)
	}

	manifest, manifestBytes, err := c.fetchManifest(ctx, repo, manifestDesc)
	if err != nil {
		return core.Descriptor{}, err
	}

	if err := store.Push(ctx, manifestDesc, bytes.NewReader(manifestBytes), nil); err != nil {
		return core.Descriptor{}, fmt.Errorf("publish manifest %s: %w", manifestDesc.Digest, err)
	}

	work := dedupDescriptors(append([]core.Descriptor{manifest.Config}, manifest.Layers...))

	agg := newAggregator("pull", cfg.progress, work)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, desc := range work {
		desc := desc
		g.Go(func() error {
			return c.transferBlob(gctx, store, repo, desc, agg)
		})
	}
	if err := g.Wait(); err != nil {
		return core.Descriptor{}, err
	}

	if err := store.Tag(manifestDesc, ref.String()); err != nil {
		return core.Descriptor{}, fmt.Errorf("tag %s: %w", ref.String(), err)
	}

	resolved, err := store.Resolve(ref.String())
	if err != nil || resolved.Digest != manifestDesc.Digest {
		return core.Descriptor{}, &core.IncompletePullError{Reference: ref.String()}
	}

	agg.emitFinal()
	return manifestDesc, nil
}

func (c *Client) fetchManifest(ctx context.Context, repo contracts.Fetcher, desc core.Descriptor) (core.Manifest, []byte, error) {
	rc, err := repo.FetchManifest(ctx, desc)
	if err != nil {
		return core.Manifest{}, nil, fmt.Errorf("fetch manifest %s: %w", desc.Digest, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return core.Manifest{}, nil, fmt.Errorf("read manifest %s: %w", desc.Digest, err)
	}

	var manifest core.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return core.Manifest{}, nil, &core.UnsupportedManifestError{MediaType: desc.MediaType, Location: desc.Digest.String()}
	}
	return manifest, data, nil
}

// transferBlob publishes a single descriptor into store, short-circuiting
// when it is already present and otherwise joining the Client's
// TransferCoordinator so concurrent requests for the same digest (two
// layers sharing content, or two concurrent Pulls) share one fetch.
func (c *Client) transferBlob(ctx context.Context, store contracts.Store, repo contracts.Fetcher, desc core.Descriptor, agg *aggregator) error {
	if ok, err := store.Exists(desc); err == nil && ok {
		agg.update(desc.Digest, desc.Size)
		return nil
	}

	sub := c.coordinator.Transfer(ctx, desc, func(pctx context.Context, report func(transferred, total int64)) error {
		rc, err := repo.FetchBlob(pctx, desc, 0)
		if err != nil {
			return fmt.Errorf("fetch blob %s: %w", desc.Digest, err)
		}
		defer rc.Close()

		return store.Push(pctx, desc, rc, func(transferred int64) {
			report(transferred, desc.Size)
		})
	})
	defer sub.Close()

	// A subscription that closes without a terminal event means this
	// caller's ctx was canceled out from under it; returning nil there
	// would let the pull tag a manifest whose layers never landed.
	done := false
	for ev := range sub.Events {
		agg.update(desc.Digest, ev.Transferred)
		if ev.Done {
			done = true
			if ev.Err != nil {
				return fmt.Errorf("transfer %s: %w", desc.Digest, ev.Err)
			}
		}
	}
	if !done {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &core.TransferFailedError{Descriptor: desc}
	}
	return nil
}

// dedupDescriptors collapses descriptors with equal digests, so the config
// blob and a layer sharing the same content (or two identical layers)
// transfer and account for progress exactly once.
func dedupDescriptors(descs []core.Descriptor) []core.Descriptor {
	seen := make(map[core.Digest]bool, len(descs))
	out := make([]core.Descriptor, 0, len(descs))
	for _, d := range descs {
		if seen[d.Digest] {
			continue
		}
		seen[d.Digest] = true
		out = append(out, d)
	}
	return out
}

// aggregator multiplexes per-descriptor byte counts into the single
// aggregate ProgressEvent callers observe, emitting only
// when the integer percentage changes.
type aggregator struct {
	operation string
	cb        ProgressCallback
	total     int64

	mu          sync.Mutex
	transferred map[core.Digest]int64
	lastPercent int
}

func newAggregator(operation string, cb ProgressCallback, work []core.Descriptor) *aggregator {
	var total int64
	for _, d := range work {
		total += d.Size
	}
	return &aggregator{
		operation:   operation,
		cb:          cb,
		total:       total,
		transferred: make(map[core.Digest]int64, len(work)),
		lastPercent: -1,
	}
}

func (a *aggregator) update(digest core.Digest, transferred int64) {
	if a.cb == nil {
		return
	}

	a.mu.Lock()
	a.transferred[digest] = transferred
	var sum int64
	for _, v := range a.transferred {
		sum += v
	}
	percent := 0
	if a.total > 0 {
		percent = int(sum * 100 / a.total)
		if percent > 100 {
			percent = 100
		}
	}
	changed := percent != a.lastPercent
	a.lastPercent = percent
	a.mu.Unlock()

	if changed {
		a.cb(ProgressEvent{Operation: a.operation, BytesTransferred: sum, TotalBytes: a.total, Percent: percent})
	}
}

func (a *aggregator) emitFinal() {
	if a.cb == nil {
		return
	}
	a.cb(ProgressEvent{Operation: a.operation, BytesTransferred: a.total, TotalBytes: a.total, Percent: 100})
}
