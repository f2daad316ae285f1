// Package layout implements an on-disk content-addressed store conforming
// to the OCI Image Layout specification: a blobs directory keyed by digest,
// an index.json of tagged top-level manifests, and the oci-layout marker.
package layout

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/meigma/ocidist/core"
)

// Option configures a Layout at construction time.
type Option func(*Layout)

// WithLogger sets the logger used for debug/warn diagnostics. A nil logger
// discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Layout) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStrictChecking verifies, at open time, that every manifest descriptor
// already in index.json exists on disk with the right size and digest. An
// existing layout with a missing or digest-mismatched manifest blob is
// rejected with InvalidLayoutError, and one whose manifest blob has the wrong
// size with a SizeMismatchError, instead of silently masking a corrupted
// store.
func WithStrictChecking(strict bool) Option {
	return func(l *Layout) { l.strict = strict }
}

// Layout owns one OCI image layout directory. It is safe for concurrent use
// by multiple goroutines within a process; it does not coordinate across
// processes sharing the same root.
type Layout struct {
	root   string
	logger *slog.Logger
	strict bool

	mu    sync.Mutex // guards read-modify-syncIndex of index
	index core.Index

	pushing *lockTable
}

// New creates the layout at root if it does not exist, or opens it and
// validates its oci-layout marker and (with WithStrictChecking) blob
// presence if it does.
func New(root string, opts ...Option) (*Layout, error) {
	l := &Layout{
		root:    root,
		logger:  slog.New(slog.DiscardHandler),
		pushing: newLockTable(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) init() error {
	_, statErr := os.Stat(l.root)
	existed := statErr == nil

	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return &core.InvalidLayoutError{Path: l.root, Reason: err.Error()}
	}
	for _, algo := range []string{"sha256", "sha512"} {
		if err := os.MkdirAll(filepath.Join(l.root, "blobs", algo), 0o755); err != nil {
			return &core.InvalidLayoutError{Path: l.root, Reason: err.Error()}
		}
	}

	markerPath := filepath.Join(l.root, "oci-layout")
	switch data, err := os.ReadFile(markerPath); {
	case os.IsNotExist(err):
		marker := core.LayoutMarker{ImageLayoutVersion: core.LayoutVersion}
		if writeErr := writeJSONAtomic(markerPath, marker); writeErr != nil {
			return fmt.Errorf("write oci-layout: %w", writeErr)
		}
	case err != nil:
		return fmt.Errorf("read oci-layout: %w", err)
	default:
		var marker core.LayoutMarker
		if jsonErr := json.Unmarshal(data, &marker); jsonErr != nil {
			return &core.InvalidLayoutError{Path: l.root, Reason: "oci-layout is not valid JSON"}
		}
		if marker.ImageLayoutVersion != core.LayoutVersion {
			return &core.InvalidLayoutError{Path: l.root, Reason: fmt.Sprintf("unsupported imageLayoutVersion %q", marker.ImageLayoutVersion)}
		}
	}

	indexPath := filepath.Join(l.root, "index.json")
	switch data, err := os.ReadFile(indexPath); {
	case os.IsNotExist(err):
		l.index = core.Index{MediaType: core.MediaTypeImageIndex, Manifests: []core.Descriptor{}}
		l.index.SchemaVersion = 2
		if syncErr := l.syncIndexLocked(); syncErr != nil {
			return syncErr
		}
	case err != nil:
		return fmt.Errorf("read index.json: %w", err)
	default:
		if jsonErr := json.Unmarshal(data, &l.index); jsonErr != nil {
			return &core.InvalidLayoutError{Path: l.root, Reason: "index.json is not valid JSON"}
		}
	}

	if existed && l.strict {
		for _, desc := range l.index.Manifests {
			ok, err := l.Exists(desc)
			if err != nil {
				return fmt.Errorf("strict check %s: %w", desc.Digest, err)
			}
			if !ok {
				return &core.InvalidLayoutError{Path: l.root, Reason: fmt.Sprintf("manifest %s missing or corrupt", desc.Digest)}
			}
			h, err := newHash(desc.Digest.Algorithm())
			if err != nil {
				return fmt.Errorf("strict check %s: %w", desc.Digest, err)
			}
			data, err := os.ReadFile(l.blobPath(desc.Digest))
			if err != nil {
				return fmt.Errorf("strict check %s: %w", desc.Digest, err)
			}
			h.Write(data)
			if fmt.Sprintf("%x", h.Sum(nil)) != desc.Digest.Encoded() {
				return &core.InvalidLayoutError{Path: l.root, Reason: fmt.Sprintf("manifest %s missing or corrupt", desc.Digest)}
			}
		}
	}

	return nil
}

// Root returns the layout's filesystem root.
func (l *Layout) Root() string {
	return l.root
}

// blobPath returns the on-disk path for a digest, regardless of whether it
// exists yet.
func (l *Layout) blobPath(d core.Digest) string {
	return filepath.Join(l.root, "blobs", d.Algorithm().String(), d.Encoded())
}
