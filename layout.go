package ocidist

import (
	"log/slog"

	"github.com/meigma/ocidist/internal/layout"
)

// Layout owns one on-disk OCI Image Layout directory: the blobs store,
// index.json, and oci-layout marker of the OCI Image Layout spec. It is safe
// for concurrent use by multiple goroutines within a process.
type Layout = layout.Layout

// LayoutOption configures a Layout at construction time.
type LayoutOption = layout.Option

// WithStrictChecking verifies, at open time, that every manifest
// descriptor already in index.json exists on disk with the right size and
// digest.
func WithStrictChecking(strict bool) LayoutOption {
	return layout.WithStrictChecking(strict)
}

// WithLayoutLogger sets the logger used for the layout's debug/warn
// diagnostics. A nil logger discards all output.
func WithLayoutLogger(logger *slog.Logger) LayoutOption {
	return layout.WithLogger(logger)
}

// OpenLayout creates the layout at root if it does not exist, or opens and
// validates an existing one.
func OpenLayout(root string, opts ...LayoutOption) (*Layout, error) {
	return layout.New(root, opts...)
}
