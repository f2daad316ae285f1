// Package registry implements the OCI Distribution v2 HTTP client: manifest
// and blob transfer against a remote repository, built on oras-go/v2 for
// the transport and auth plumbing, with the range-resumption and
// platform-selecting manifest resolution layered on top.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/ocidist/core"
)

// defaultChunkSize is the chunk length used for a chunked PATCH sequence
// when PushBlob is not given a more specific threshold to chunk by.
const defaultChunkSize = 5 * 1024 * 1024

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithCredentialStore sets the credential source consulted for every
// request. A nil store (the default) authenticates anonymously.
func WithCredentialStore(store credentials.Store) Option {
	return func(r *Repository) { r.credStore = store }
}

// WithPlainHTTP disables TLS for this repository's registry host. Intended
// for local or test registries only.
func WithPlainHTTP(plainHTTP bool) Option {
	return func(r *Repository) { r.plainHTTP = plainHTTP }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *Repository) { r.userAgent = ua }
}

// Repository is a stateless client for one registry/repository pair. All
// methods take their own context and are safe for concurrent use.
type Repository struct {
	ref       core.Reference
	plainHTTP bool
	userAgent string
	credStore credentials.Store

	repo *remote.Repository
}

// New constructs a Repository for ref, authenticating requests against
// credStore (set via WithCredentialStore).
func New(ref core.Reference, opts ...Option) (*Repository, error) {
	r := &Repository{ref: ref, userAgent: "ocidist/1.0"}
	for _, opt := range opts {
		opt(r)
	}

	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	repo.PlainHTTP = r.plainHTTP
	repo.Client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if r.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return r.credStore.Get(ctx, hostport)
		},
		Header: http.Header{"User-Agent": []string{r.userAgent}},
	}
	r.repo = repo
	return r, nil
}

func (r *Repository) scheme() string {
	if r.plainHTTP {
		return "http"
	}
	return "https"
}

func (r *Repository) v2URL(segments ...string) *url.URL {
	u := &url.URL{Scheme: r.scheme(), Host: r.ref.Registry}
	return u.JoinPath(append([]string{"v2"}, segments...)...)
}

// Ping issues GET /v2/ and reports whether the registry is reachable and
// distribution-spec compliant: both 200 and 401 count as reachable, since
// an unauthenticated ping against a private registry is expected to be
// challenged rather than refused.
func (r *Repository) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.v2URL().String(), http.NoBody)
	if err != nil {
		return false, fmt.Errorf("build ping request: %w", err)
	}
	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized, nil
}

// ListTags returns a lazy, paginated sequence of this repository's tags,
// following the Link: <url>; rel="next" header until it is absent.
func (r *Repository) ListTags(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		next := r.v2URL(r.ref.Repository, "tags", "list").String()
		for next != "" {
			tags, link, err := r.fetchTagPage(ctx, next)
			if err != nil {
				yield("", err)
				return
			}
			for _, tag := range tags {
				if !yield(tag, nil) {
					return
				}
			}
			next = link
			if next != "" {
				next = r.resolveLocation(next)
			}
		}
	}
}

type tagsResponse struct {
	Tags []string `json:"tags"`
}

func (r *Repository) fetchTagPage(ctx context.Context, pageURL string) ([]string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("build tags request: %w", err)
	}
	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("list tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", mapError(responseError(resp))
	}

	var page tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decode tags response: %w", err)
	}
	return page.Tags, nextLink(resp.Header), nil
}

// Catalog returns a lazy, paginated sequence of repository names served by
// this registry.
func (r *Repository) Catalog(ctx context.Context, pageSize int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		first := r.v2URL("_catalog")
		q := first.Query()
		if pageSize > 0 {
			q.Set("n", fmt.Sprint(pageSize))
		}
		first.RawQuery = q.Encode()
		next := first.String()

		for next != "" {
			names, link, err := r.fetchCatalogPage(ctx, next)
			if err != nil {
				yield("", err)
				return
			}
			for _, name := range names {
				if !yield(name, nil) {
					return
				}
			}
			next = link
			if next != "" {
				next = r.resolveLocation(next)
			}
		}
	}
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

func (r *Repository) fetchCatalogPage(ctx context.Context, pageURL string) ([]string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", mapError(responseError(resp))
	}

	var page catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decode catalog response: %w", err)
	}
	return page.Repositories, nextLink(resp.Header), nil
}

// ResolveManifest fetches the manifest or index at ref and, if it is an
// index, applies selectFn to each entry's platform to pick a single
// manifest descriptor. It fails with core.ErrPlatformNotFound if ref is an
// index and no entry satisfies selectFn.
func (r *Repository) ResolveManifest(ctx context.Context, ref string, selectFn core.PlatformSelector) (core.Descriptor, error) {
	desc, data, err := r.fetchManifestBytes(ctx, ref)
	if err != nil {
		return core.Descriptor{}, err
	}

	if !isIndexMediaType(desc.MediaType) {
		return desc, nil
	}

	var idx core.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return core.Descriptor{}, fmt.Errorf("decode index: %w", err)
	}
	for _, m := range idx.Manifests {
		if selectFn == nil || selectFn(m.Platform) {
			return m, nil
		}
	}
	return core.Descriptor{}, core.ErrPlatformNotFound
}

func (r *Repository) fetchManifestBytes(ctx context.Context, ref string) (core.Descriptor, []byte, error) {
	desc, rc, err := r.repo.Manifests().FetchReference(ctx, ref)
	if err != nil {
		return core.Descriptor{}, nil, mapError(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return core.Descriptor{}, nil, fmt.Errorf("read manifest: %w", err)
	}
	return desc, data, nil
}

// FetchManifest fetches the manifest bytes for desc.
func (r *Repository) FetchManifest(ctx context.Context, desc core.Descriptor) (io.ReadCloser, error) {
	rc, err := r.repo.Manifests().Fetch(ctx, desc)
	if err != nil {
		return nil, mapError(err)
	}
	return rc, nil
}

// ManifestExists issues a HEAD request to check manifest presence without
// fetching its content.
func (r *Repository) ManifestExists(ctx context.Context, desc core.Descriptor) (bool, error) {
	ok, err := r.repo.Manifests().Exists(ctx, desc)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

// PushManifest uploads a manifest or index blob.
func (r *Repository) PushManifest(ctx context.Context, desc core.Descriptor, content io.Reader) error {
	if err := r.repo.Manifests().Push(ctx, desc, content); err != nil {
		return mapError(err)
	}
	return nil
}

// DeleteManifest removes a manifest by digest.
func (r *Repository) DeleteManifest(ctx context.Context, desc core.Descriptor) error {
	if err := r.repo.Manifests().Delete(ctx, desc); err != nil {
		return mapError(err)
	}
	return nil
}

// Tag associates tag with desc's manifest.
func (r *Repository) Tag(ctx context.Context, desc core.Descriptor, tag string) error {
	if err := r.repo.Tag(ctx, desc, tag); err != nil {
		return mapError(err)
	}
	return nil
}

// FetchBlob fetches desc's blob starting at resumeOffset, issuing a ranged
// GET when resumeOffset > 0 (for a caller that already holds a prefix of the
// blob; Pull itself always passes 0) and a plain GET otherwise.
func (r *Repository) FetchBlob(ctx context.Context, desc core.Descriptor, resumeOffset int64) (io.ReadCloser, error) {
	if resumeOffset <= 0 {
		rc, err := r.repo.Blobs().Fetch(ctx, desc)
		if err != nil {
			return nil, mapError(err)
		}
		return rc, nil
	}

	blobURL := r.v2URL(r.ref.Repository, "blobs", string(desc.Digest)).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build blob request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))

	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blob range: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	default:
		defer resp.Body.Close()
		return nil, mapError(responseError(resp))
	}
}

// PushBlob uploads a blob, using a single monolithic PUT when desc.Size is
// under chunkMinSize and a POST-start / chunked-PATCH / PUT-finalize
// sequence otherwise, per the distribution spec's upload session protocol.
// chunkMinSize <= 0 falls back to defaultChunkSize.
func (r *Repository) PushBlob(ctx context.Context, desc core.Descriptor, content io.Reader, chunkMinSize int64) error {
	if chunkMinSize <= 0 {
		chunkMinSize = defaultChunkSize
	}

	location, err := r.startUpload(ctx)
	if err != nil {
		return err
	}

	if desc.Size < chunkMinSize {
		return r.finalizeUpload(ctx, location, desc, content, desc.Size)
	}
	return r.pushBlobChunked(ctx, location, desc, content, chunkMinSize)
}

// startUpload begins a new upload session and returns the (possibly
// relative) Location the server wants subsequent requests sent to.
func (r *Repository) startUpload(ctx context.Context) (string, error) {
	// The upload path carries a trailing slash: the reference registry
	// answers the slashless form with a redirect, which Go's client would
	// not replay as a POST.
	uploadURL := r.v2URL(r.ref.Repository, "blobs", "uploads").String() + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build start-upload request: %w", err)
	}
	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("start upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", mapError(responseError(resp))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", mapError(&core.HTTPError{StatusCode: resp.StatusCode, Message: "start-upload response missing Location header"})
	}
	return r.resolveLocation(location), nil
}

// resolveLocation turns a Location header value, which servers are allowed
// to return relative to the registry host, into an absolute URL.
func (r *Repository) resolveLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	if u.IsAbs() {
		return location
	}
	base := &url.URL{Scheme: r.scheme(), Host: r.ref.Registry}
	return base.ResolveReference(u).String()
}

// pushBlobChunked streams content to location in chunkSize pieces via PATCH,
// each carrying a Content-Range for the bytes it covers, then finalizes the
// session with a digest-bearing PUT against whatever Location the last
// response reported. A chunk whose PATCH fails is retried once from the
// offset the server reports for the upload session, so a transient failure
// mid-session resumes instead of invalidating bytes already accepted.
func (r *Repository) pushBlobChunked(ctx context.Context, location string, desc core.Descriptor, content io.Reader, chunkSize int64) error {
	buf := make([]byte, chunkSize)
	var offset int64
	for offset < desc.Size {
		n, readErr := io.ReadFull(content, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return fmt.Errorf("read blob chunk: %w", readErr)
		}
		if n == 0 {
			break
		}

		next, err := r.patchChunk(ctx, location, buf[:n], offset)
		if err != nil {
			srvOffset, statusErr := r.uploadOffset(ctx, location)
			if statusErr != nil || srvOffset < offset || srvOffset > offset+int64(n) {
				return err
			}
			next, err = r.patchChunk(ctx, location, buf[srvOffset-offset:n], srvOffset)
			if err != nil {
				return err
			}
		}
		location = next
		offset += int64(n)
	}

	return r.finalizeUpload(ctx, location, desc, http.NoBody, 0)
}

// uploadOffset queries an upload session's progress and returns the offset
// of the next byte the server expects, parsed from the Range: 0-<lastByte>
// header of a GET against the session location. A session with no bytes
// received yet carries no Range header and reports offset 0.
func (r *Repository) uploadOffset(ctx context.Context, location string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build upload status request: %w", err)
	}
	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query upload status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return 0, mapError(responseError(resp))
	}

	rng := resp.Header.Get("Range")
	if rng == "" {
		return 0, nil
	}
	_, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("malformed upload Range header %q", rng)
	}
	lastByte, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed upload Range header %q: %w", rng, err)
	}
	return lastByte + 1, nil
}

// patchChunk uploads one chunk at [offset, offset+len(chunk)) and returns
// the Location to use for the next request, which a compliant server may
// rotate on every chunk.
func (r *Repository) patchChunk(ctx context.Context, location string, chunk []byte, offset int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, bytes.NewReader(chunk))
	if err != nil {
		return "", fmt.Errorf("build chunk request: %w", err)
	}
	req.ContentLength = int64(len(chunk))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("%d-%d", offset, offset+int64(len(chunk))-1))

	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("push chunk: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", mapError(responseError(resp))
	}

	next := resp.Header.Get("Location")
	if next == "" {
		return location, nil
	}
	return r.resolveLocation(next), nil
}

// finalizeUpload completes an upload session by PUTting body (the full blob
// for a monolithic upload, or nothing to close out a chunked one) to
// location with the blob's digest attached as a query parameter.
func (r *Repository) finalizeUpload(ctx context.Context, location string, desc core.Descriptor, body io.Reader, contentLength int64) error {
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("parse upload location: %w", err)
	}
	q := u.Query()
	q.Set("digest", string(desc.Digest))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), body)
	if err != nil {
		return fmt.Errorf("build finalize request: %w", err)
	}
	req.ContentLength = contentLength
	if contentLength > 0 {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return mapError(responseError(resp))
	}
	return nil
}

// MountBlob attempts a cross-repository mount of desc from fromRepo,
// avoiding a redundant upload when the blob already exists elsewhere on the
// same registry. It reports whether the mount succeeded: a registry that
// declines the mount answers 202 with a fresh upload session instead of
// 201, which is not an error, just the signal to upload the blob normally.
func (r *Repository) MountBlob(ctx context.Context, desc core.Descriptor, fromRepo string) (bool, error) {
	mountURL := r.v2URL(r.ref.Repository, "blobs", "uploads")
	mountURL = mountURL.JoinPath("/")
	q := mountURL.Query()
	q.Set("mount", string(desc.Digest))
	q.Set("from", fromRepo)
	mountURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mountURL.String(), http.NoBody)
	if err != nil {
		return false, fmt.Errorf("build mount request: %w", err)
	}
	resp, err := r.repo.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("mount blob: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusAccepted:
		return false, nil
	default:
		return false, mapError(responseError(resp))
	}
}

// BlobExists issues a HEAD request to check blob presence without fetching
// its content.
func (r *Repository) BlobExists(ctx context.Context, desc core.Descriptor) (bool, error) {
	ok, err := r.repo.Blobs().Exists(ctx, desc)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

func isIndexMediaType(mediaType string) bool {
	return mediaType == core.MediaTypeImageIndex || mediaType == "application/vnd.docker.distribution.manifest.list.v2+json"
}

// nextLink extracts the URL from a Link: <url>; rel="next" response header.
func nextLink(h http.Header) string {
	link := h.Get("Link")
	if !strings.HasPrefix(link, "<") || !strings.Contains(link, `rel="next"`) {
		return ""
	}
	end := strings.IndexByte(link, '>')
	if end < 0 {
		return ""
	}
	return link[1:end]
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body struct {
		Errors []core.RegistryErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Errors) > 0 {
		return &core.FromResponseError{StatusCode: resp.StatusCode, Errors: body.Errors}
	}
	return &core.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
}
