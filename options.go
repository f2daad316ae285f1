package ocidist

import (
	"log/slog"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/ocidist/core"
	"github.com/meigma/ocidist/internal/registry"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// PullOption configures a Pull operation.
type PullOption func(*pullConfig)

// PushOption configures a Push operation.
type PushOption func(*pushConfig)

// defaultConcurrency is the default number of layers transferred at once.
const defaultConcurrency = 3

// defaultChunkMinSize is the default threshold at or above which a blob push
// uses chunked PATCH instead of a monolithic PUT. A registry's
// OCI-Chunk-Min-Length header is not read; only this value or the one set
// with WithChunkSize applies.
const defaultChunkMinSize = 5 * 1024 * 1024

type pullConfig struct {
	platform core.PlatformSelector
	progress ProgressCallback
}

type pushConfig struct {
	progress ProgressCallback
}

// WithLogger sets the logger used for client diagnostics. By default,
// logging is disabled.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithUserAgent overrides the default User-Agent header sent with every
// registry request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithInsecure allows connections to registries without TLS. Intended for
// local or test registries only.
func WithInsecure(insecure bool) ClientOption {
	return func(c *Client) error {
		c.plainHTTP = insecure
		return nil
	}
}

// WithCredentials sets a single static credential for registryHost.
func WithCredentials(registryHost, username, password string) ClientOption {
	return func(c *Client) error {
		c.credStore = registry.StaticCredentials(registryHost, username, password)
		return nil
	}
}

// WithCredentialStore sets a custom credential source, consulted for every
// registry in every operation. By default, credentials are resolved from
// OCIDIST_REGISTRY_USERNAME/OCIDIST_REGISTRY_PASSWORD, then Docker config
// (~/.docker/config.json) and credential helpers, then ocidist's own
// credentials.json.
func WithCredentialStore(store credentials.Store) ClientOption {
	return func(c *Client) error {
		c.credStore = store
		return nil
	}
}

// WithConcurrency sets the number of layers transferred concurrently
// during Pull and Push. The default is 3.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) error {
		if n > 0 {
			c.concurrency = n
		}
		return nil
	}
}

// WithChunkSize sets the byte threshold above which Push uses chunked
// PATCH uploads instead of a monolithic PUT.
// The default is 5 MiB.
func WithChunkSize(bytes int64) ClientOption {
	return func(c *Client) error {
		if bytes > 0 {
			c.chunkMinSize = bytes
		}
		return nil
	}
}

// WithPlatform selects which manifest entry of a multi-platform index Pull
// resolves to. The default is DefaultPlatform, the running process's
// GOOS/GOARCH.
func WithPlatform(selector core.PlatformSelector) PullOption {
	return func(c *pullConfig) { c.platform = selector }
}

// WithPullProgress registers a callback invoked as layer bytes are
// transferred during Pull.
func WithPullProgress(cb ProgressCallback) PullOption {
	return func(c *pullConfig) { c.progress = cb }
}

// WithPushProgress registers a callback invoked as layer bytes are
// transferred during Push.
func WithPushProgress(cb ProgressCallback) PushOption {
	return func(c *pushConfig) { c.progress = cb }
}
