package ocidist

import (
	"context"
	"fmt"
	"iter"

	"github.com/meigma/ocidist/core"
)

// ListTags returns an iterator over every tag in the repository named by
// refStr (its Reference segment, if any, is ignored). Iteration stops at
// the first error, which the final yielded value carries.
func (c *Client) ListTags(ctx context.Context, refStr string) iter.Seq2[string, error] {
	ref, err := core.Parse(refStr)
	if err != nil {
		return func(yield func(string, error) bool) { yield("", err) }
	}

	repo, err := c.repository(ref)
	if err != nil {
		return func(yield func(string, error) bool) { yield("", err) }
	}

	return repo.ListTags(ctx)
}

// Catalog returns an iterator over every repository name hosted at
// registryHost, paginated pageSize entries at a time.
func (c *Client) Catalog(ctx context.Context, registryHost string, pageSize int) iter.Seq2[string, error] {
	// Repository is a placeholder: Catalog's requests target registryHost's
	// /v2/_catalog endpoint directly and never reference it.
	ref := core.Reference{Registry: registryHost, Repository: "catalog"}
	repo, err := c.repository(ref)
	if err != nil {
		return func(yield func(string, error) bool) { yield("", fmt.Errorf("create repository client for %s: %w", registryHost, err)) }
	}

	return repo.Catalog(ctx, pageSize)
}
