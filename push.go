package ocidist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/ocidist/core"
	"github.com/meigma/ocidist/internal/contracts"
	"github.com/meigma/ocidist/internal/progress"
)

// Push uploads the artifact tagged refStr in store to the registry named
// by refStr, the symmetric counterpart of Pull:
//
//  1. resolve refStr against store to find the local manifest descriptor;
//  2. fan out bounded-concurrency uploads of {config} ∪ layers, each
//     deduplicated through the Client's TransferCoordinator, skipping any
//     blob the registry already has;
//  3. upload the manifest itself by digest, then tag it if refStr names a
//     tag rather than a digest.
func (c *Client) Push(ctx context.Context, store contracts.Store, refStr string, opts ...PushOption) (core.Descriptor, error) {
	cfg := &pushConfig{}
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

	return c.push(ctx, store, ref, repo, cfg)
}

// push runs Push's orchestration against an already-resolved Repository,
// separated out so tests can exercise it against a fake registry client
// without a network connection.
func (c *Client) push(ctx context.Context, store contracts.Store, ref core.Reference, repo contracts.Repository, cfg *pushConfig) (core.Descriptor, error) {
	// A store populated by Pull tags entries with the full canonical
	// reference; one tagged locally (a freshly built layout) usually
	// carries just the bare tag, so fall back to that before giving up.
	manifestDesc, err := store.Resolve(ref.String())
	if errors.Is(err, core.ErrDescriptorNotFound) && ref.Reference != "" {
		manifestDesc, err = store.Resolve(ref.Reference)
	}
	if err != nil {
		return core.Descriptor{}, fmt.Errorf("resolve %s in store: %w", ref.String(), err)
	}

	manifest, manifestBytes, err := c.readManifest(store, manifestDesc)
	if err != nil {
		return core.Descriptor{}, err
	}

	work := dedupDescriptors(append([]core.Descriptor{manifest.Config}, manifest.Layers...))

	agg := newAggregator("push", cfg.progress, work)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, desc := range work {
		desc := desc
		g.Go(func() error {
			return c.pushBlob(gctx, store, repo, desc, agg)
		})
	}
	if err := g.Wait(); err != nil {
		return core.Descriptor{}, err
	}

	if err := repo.PushManifest(ctx, manifestDesc, bytes.NewReader(manifestBytes)); err != nil {
		return core.Descriptor{}, fmt.Errorf("push manifest %s: %w", manifestDesc.Digest, err)
	}
	if ref.Reference != "" && !ref.IsDigest() {
		if err := repo.Tag(ctx, manifestDesc, ref.Reference); err != nil {
			return core.Descriptor{}, fmt.Errorf("tag %s: %w", ref.Reference, err)
		}
	}

	agg.emitFinal()
	return manifestDesc, nil
}

func (c *Client) readManifest(store contracts.Store, desc core.Descriptor) (core.Manifest, []byte, error) {
	rc, err := store.Open(desc)
	if err != nil {
		return core.Manifest{}, nil, fmt.Errorf("open manifest %s: %w", desc.Digest, err)
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

// pushBlob uploads a single descriptor to the registry, skipping the
// upload entirely when the registry reports it already has the blob
// (cross-pull dedup at the server, independent of this client's local
// TransferCoordinator dedup).
func (c *Client) pushBlob(ctx context.Context, store contracts.Store, repo contracts.Repository, desc core.Descriptor, agg *aggregator) error {
	exists, existsErr := repo.BlobExists(ctx, desc)
	if existsErr == nil && exists {
		agg.update(desc.Digest, desc.Size)
		return nil
	}

	sub := c.coordinator.Transfer(ctx, desc, func(pctx context.Context, report func(transferred, total int64)) error {
		rc, err := store.Open(desc)
		if err != nil {
			return fmt.Errorf("open blob %s: %w", desc.Digest, err)
		}
		defer rc.Close()

		// Coalesce to a 256KiB reporting interval: PushBlob's chunked upload
		// path can hand this reader multi-megabyte chunks in a single
		// io.ReadFull, and the subscriber's event channel only buffers 8
		// updates before dropping intermediate ones anyway.
		progressReader := progress.NewReader(rc, desc.Size, func(transferred, total int64) { report(transferred, total) }).
			WithReportInterval(256 * 1024)
		return repo.PushBlob(pctx, desc, progressReader, c.chunkMinSize)
	})
	defer sub.Close()

	// As in pull's transferBlob: a subscription that closes without a
	// terminal event means ctx was canceled, not that the upload finished.
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
