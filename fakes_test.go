package ocidist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/meigma/ocidist/core"
)

// fakeStore is an in-memory contracts.Store used to exercise Pull/Push
// orchestration without a real Layout directory.
type fakeStore struct {
	mu        sync.Mutex
	blobs     map[core.Digest][]byte
	manifests []core.Descriptor
	pushCalls map[core.Digest]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blobs:     make(map[core.Digest][]byte),
		pushCalls: make(map[core.Digest]int),
	}
}

func (s *fakeStore) Exists(desc core.Descriptor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[desc.Digest]
	if !ok {
		return false, nil
	}
	if int64(len(data)) != desc.Size {
		return false, &core.SizeMismatchError{Expected: desc.Size, Actual: int64(len(data))}
	}
	return true, nil
}

func (s *fakeStore) Push(_ context.Context, desc core.Descriptor, src io.Reader, onProgress func(int64)) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	if int64(len(data)) != desc.Size {
		return &core.SizeMismatchError{Expected: desc.Size, Actual: int64(len(data))}
	}
	sum := sha256.Sum256(data)
	computed := core.Digest("sha256:" + hex.EncodeToString(sum[:]))
	if computed != desc.Digest {
		return &core.DigestMismatchError{Expected: desc.Digest, Actual: computed}
	}
	if onProgress != nil {
		onProgress(int64(len(data)))
	}

	s.mu.Lock()
	s.blobs[desc.Digest] = data
	s.pushCalls[desc.Digest]++
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Open(desc core.Descriptor) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.blobs[desc.Digest]
	s.mu.Unlock()
	if !ok {
		return nil, core.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Tag(desc core.Descriptor, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagged := desc
	annotations := make(map[string]string, len(tagged.Annotations)+1)
	for k, v := range tagged.Annotations {
		annotations[k] = v
	}
	annotations[core.AnnotationRefName] = ref
	tagged.Annotations = annotations

	for i, m := range s.manifests {
		if m.Annotations[core.AnnotationRefName] == ref {
			s.manifests[i] = tagged
			return nil
		}
	}
	s.manifests = append(s.manifests, tagged)
	return nil
}

func (s *fakeStore) Resolve(ref string) (core.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ref may be a bare digest, a tag, or a full registry/repo[:tag|@digest]
	// reference; extract whatever looks like a digest suffix for matching
	// against descriptor digests directly.
	digestPart := ref
	if i := strings.LastIndexByte(ref, '@'); i >= 0 {
		digestPart = ref[i+1:]
	}
	wantDigest, digestErr := core.ParseDigest(digestPart)

	for _, m := range s.manifests {
		if m.Annotations[core.AnnotationRefName] == ref {
			return m, nil
		}
		if digestErr == nil && m.Digest == wantDigest {
			return m, nil
		}
	}
	return core.Descriptor{}, core.ErrDescriptorNotFound
}

func (s *fakeStore) Manifests() []core.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Descriptor(nil), s.manifests...)
}

func (s *fakeStore) Remove(desc core.Descriptor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.manifests {
		if m.Digest == desc.Digest {
			s.manifests = append(s.manifests[:i], s.manifests[i+1:]...)
			return true, nil
		}
	}
	if _, ok := s.blobs[desc.Digest]; ok {
		delete(s.blobs, desc.Digest)
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) GC(context.Context) ([]core.Digest, error) {
	return nil, nil
}

func (s *fakeStore) Root() string {
	return "fake://store"
}

// fakeRepository is an in-memory contracts.Repository used to exercise
// Pull/Push orchestration without a real registry connection.
type fakeRepository struct {
	mu        sync.Mutex
	manifests map[string]fakeManifestEntry
	blobs     map[core.Digest][]byte
	tags      map[string]core.Descriptor

	fetchCalls atomic.Int64
	pushCalls  atomic.Int64
}

type fakeManifestEntry struct {
	desc core.Descriptor
	data []byte
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		manifests: make(map[string]fakeManifestEntry),
		blobs:     make(map[core.Digest][]byte),
		tags:      make(map[string]core.Descriptor),
	}
}

// seedManifest registers a manifest (or index) blob reachable by both its
// digest and, if tag is non-empty, a tag.
func (r *fakeRepository) seedManifest(tag string, desc core.Descriptor, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[desc.Digest.String()] = fakeManifestEntry{desc: desc, data: data}
	if tag != "" {
		r.manifests[tag] = fakeManifestEntry{desc: desc, data: data}
		r.tags[tag] = desc
	}
}

func (r *fakeRepository) seedBlob(data []byte) core.Descriptor {
	sum := sha256.Sum256(data)
	desc := core.Descriptor{
		MediaType: "application/vnd.oci.image.layer.v1.tar",
		Digest:    core.Digest("sha256:" + hex.EncodeToString(sum[:])),
		Size:      int64(len(data)),
	}
	r.mu.Lock()
	r.blobs[desc.Digest] = data
	r.mu.Unlock()
	return desc
}

func (r *fakeRepository) ResolveManifest(_ context.Context, ref string, selectFn core.PlatformSelector) (core.Descriptor, error) {
	r.mu.Lock()
	entry, ok := r.manifests[ref]
	r.mu.Unlock()
	if !ok {
		return core.Descriptor{}, core.ErrDescriptorNotFound
	}
	if entry.desc.MediaType != core.MediaTypeImageIndex {
		return entry.desc, nil
	}

	var idx core.Index
	if err := json.Unmarshal(entry.data, &idx); err != nil {
		return core.Descriptor{}, err
	}
	for _, m := range idx.Manifests {
		if selectFn == nil || selectFn(m.Platform) {
			return m, nil
		}
	}
	return core.Descriptor{}, core.ErrPlatformNotFound
}

func (r *fakeRepository) FetchManifest(_ context.Context, desc core.Descriptor) (io.ReadCloser, error) {
	r.mu.Lock()
	entry, ok := r.manifests[desc.Digest.String()]
	r.mu.Unlock()
	if !ok {
		return nil, core.ErrDescriptorNotFound
	}
	return io.NopCloser(bytes.NewReader(entry.data)), nil
}

func (r *fakeRepository) FetchBlob(_ context.Context, desc core.Descriptor, resumeOffset int64) (io.ReadCloser, error) {
	r.fetchCalls.Add(1)
	r.mu.Lock()
	data, ok := r.blobs[desc.Digest]
	r.mu.Unlock()
	if !ok {
		return nil, core.ErrBlobNotFound
	}
	if resumeOffset > int64(len(data)) {
		resumeOffset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[resumeOffset:])), nil
}

func (r *fakeRepository) BlobExists(_ context.Context, desc core.Descriptor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blobs[desc.Digest]
	return ok, nil
}

func (r *fakeRepository) PushManifest(_ context.Context, desc core.Descriptor, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.manifests[desc.Digest.String()] = fakeManifestEntry{desc: desc, data: data}
	r.mu.Unlock()
	return nil
}

func (r *fakeRepository) PushBlob(_ context.Context, desc core.Descriptor, content io.Reader, _ int64) error {
	r.pushCalls.Add(1)
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.blobs[desc.Digest] = data
	r.mu.Unlock()
	return nil
}

func (r *fakeRepository) Tag(_ context.Context, desc core.Descriptor, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.manifests[desc.Digest.String()]
	if !ok {
		return core.ErrDescriptorNotFound
	}
	r.manifests[tag] = entry
	r.tags[tag] = desc
	return nil
}

func (r *fakeRepository) ListTags(context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		r.mu.Lock()
		tags := make([]string, 0, len(r.tags))
		for t := range r.tags {
			tags = append(tags, t)
		}
		r.mu.Unlock()
		for _, t := range tags {
			if !yield(t, nil) {
				return
			}
		}
	}
}
