// Package contracts defines the internal interfaces Pull/Push orchestration
// is written against, so the root package can be tested against fakes
// without standing up Layout or a real registry connection.
package contracts

import (
	"context"
	"io"
	"iter"

	"github.com/meigma/ocidist/core"
)

// Store is the subset of Layout's surface the orchestration layer depends
// on.
type Store interface {
	Exists(desc core.Descriptor) (bool, error)
	Push(ctx context.Context, desc core.Descriptor, src io.Reader, onProgress func(int64)) error
	Open(desc core.Descriptor) (io.ReadCloser, error)
	Tag(desc core.Descriptor, ref string) error
	Resolve(ref string) (core.Descriptor, error)
	Manifests() []core.Descriptor
	Remove(desc core.Descriptor) (bool, error)
	GC(ctx context.Context) ([]core.Digest, error)
	Root() string
}

// Fetcher is a blob or manifest source capable of resuming a partial read
// (used for registry pulls) backed by a digest-addressed descriptor.
type Fetcher interface {
	ResolveManifest(ctx context.Context, ref string, selectFn core.PlatformSelector) (core.Descriptor, error)
	FetchManifest(ctx context.Context, desc core.Descriptor) (io.ReadCloser, error)
	FetchBlob(ctx context.Context, desc core.Descriptor, resumeOffset int64) (io.ReadCloser, error)
	BlobExists(ctx context.Context, desc core.Descriptor) (bool, error)
}

// Pusher is a manifest and blob sink used by Push orchestration.
type Pusher interface {
	PushManifest(ctx context.Context, desc core.Descriptor, content io.Reader) error
	PushBlob(ctx context.Context, desc core.Descriptor, content io.Reader, chunkMinSize int64) error
	Tag(ctx context.Context, desc core.Descriptor, tag string) error
	ListTags(ctx context.Context) iter.Seq2[string, error]
}

// Repository is the full registry-facing surface Pull/Push orchestration
// needs: resolve and fetch for Pull, push and tag for Push.
type Repository interface {
	Fetcher
	Pusher
}
