package ocidist

import (
	"fmt"
	"log/slog"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/ocidist/core"
	"github.com/meigma/ocidist/internal/registry"
	"github.com/meigma/ocidist/internal/transfer"
)

// Client is a registry-facing entry point shared across Pull and Push
// operations against any number of Layout stores. A single Client's
// TransferCoordinator deduplicates concurrent transfers of the same
// descriptor across all of its operations, so two pulls from
// different goroutines sharing a layer fetch it exactly once.
type Client struct {
	logger       *slog.Logger
	credStore    credentials.Store
	plainHTTP    bool
	userAgent    string
	concurrency  int
	chunkMinSize int64

	coordinator *transfer.Coordinator
}

// NewClient creates a Client. By default, credentials are resolved from
// OCIDIST_REGISTRY_USERNAME/OCIDIST_REGISTRY_PASSWORD, then Docker config
// (~/.docker/config.json) and credential helpers, then ocidist's own
// credentials.json; use WithCredentials or WithCredentialStore to override.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		logger:       slog.New(slog.DiscardHandler),
		userAgent:    "ocidist/1.0",
		concurrency:  defaultConcurrency,
		chunkMinSize: defaultChunkMinSize,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.credStore == nil {
		store, err := registry.DefaultCredentialStore()
		if err != nil {
			return nil, fmt.Errorf("create credential store: %w", err)
		}
		c.credStore = store
	}

	c.coordinator = transfer.New(c.logger)
	return c, nil
}

// repository builds a registry client scoped to ref's registry/repository
// pair. Repository is stateless over the shared HTTP client and credential
// store, so a fresh one is cheap to build per call.
func (c *Client) repository(ref core.Reference) (*registry.Repository, error) {
	repo, err := registry.New(ref,
		registry.WithCredentialStore(c.credStore),
		registry.WithPlainHTTP(c.plainHTTP),
		registry.WithUserAgent(c.userAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("create repository client for %s/%s: %w", ref.Registry, ref.Repository, err)
	}
	return repo, nil
}
