package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/ocidist/core"
)

// Remove deletes desc. If desc names a top-level index entry, the entry is
// dropped and every blob reachable only from that entry's subtree (and not
// from any remaining tagged root) is deleted along with it; if desc names a
// blob that isn't a top-level entry, the blob itself is deleted provided no
// remaining root still reaches it. A descriptor with an in-flight Push is
// refused, since the push's staging file is invisible to the reachability
// walk and would otherwise look like orphaned state mid-removal.
//
// Top-level entries are matched by digest, not full descriptor equality: Tag
// always stamps its stored copy with the org.opencontainers.image.ref.name
// annotation, so a caller passing back the bare descriptor it originally
// pushed would never satisfy core.DescriptorEqual against the index's
// annotated entry.
func (l *Layout) Remove(desc core.Descriptor) (bool, error) {
	if l.pushing.contains(string(desc.Digest)) {
		return false, &core.UnableToRemoveError{Descriptor: desc, Reason: "publication in progress"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, m := range l.index.Manifests {
		if m.Digest == desc.Digest {
			return l.removeRootLocked(i)
		}
	}
	return l.removeBlobLocked(desc)
}

// removeRootLocked drops the index entry at idx and deletes every blob
// reachable from it that no other remaining root still reaches. Caller must
// hold l.mu.
func (l *Layout) removeRootLocked(idx int) (bool, error) {
	root := l.index.Manifests[idx]

	orphaned := make(map[core.Digest]struct{})
	l.reachable(root, orphaned)

	live := make(map[core.Digest]struct{}, len(orphaned))
	for i, m := range l.index.Manifests {
		if i == idx {
			continue
		}
		l.reachable(m, live)
	}

	manifests := make([]core.Descriptor, 0, len(l.index.Manifests)-1)
	manifests = append(manifests, l.index.Manifests[:idx]...)
	manifests = append(manifests, l.index.Manifests[idx+1:]...)
	l.index.Manifests = manifests

	if err := l.syncIndexLocked(); err != nil {
		return false, err
	}

	for d := range orphaned {
		if _, stillLive := live[d]; stillLive {
			continue
		}
		if err := os.Remove(l.blobPath(d)); err != nil && !os.IsNotExist(err) {
			return true, fmt.Errorf("remove blob %s: %w", d, err)
		}
	}
	return true, nil
}

// removeBlobLocked deletes desc's blob directly, refusing if any current
// root still reaches it. Caller must hold l.mu.
func (l *Layout) removeBlobLocked(desc core.Descriptor) (bool, error) {
	live := make(map[core.Digest]struct{})
	for _, m := range l.index.Manifests {
		l.reachable(m, live)
	}
	if _, referenced := live[desc.Digest]; referenced {
		return false, &core.UnableToRemoveError{Descriptor: desc, Reason: "still reachable from a tagged manifest"}
	}

	path := l.blobPath(desc.Digest)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", desc.Digest, err)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove blob %s: %w", desc.Digest, err)
	}
	return true, nil
}

// readBlob loads and json-decodes the blob at d into v.
func (l *Layout) readBlob(d core.Digest, v any) error {
	data, err := os.ReadFile(l.blobPath(d))
	if err != nil {
		return fmt.Errorf("read blob %s: %w", d, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode blob %s: %w", d, err)
	}
	return nil
}

// reachable walks the manifest/index graph rooted at desc, adding every
// digest it visits to set. It tolerates a root digest it cannot load or
// parse (e.g. a tag pointing at a blob that was never actually pushed) by
// simply not descending further from it, since GC's job is to preserve
// whatever IS reachable, not to validate the graph.
func (l *Layout) reachable(desc core.Descriptor, set map[core.Digest]struct{}) {
	if _, seen := set[desc.Digest]; seen {
		return
	}
	set[desc.Digest] = struct{}{}

	switch desc.MediaType {
	case core.MediaTypeImageIndex:
		var idx core.Index
		if err := l.readBlob(desc.Digest, &idx); err != nil {
			return
		}
		for _, m := range idx.Manifests {
			l.reachable(m, set)
		}
		if idx.Subject != nil {
			l.reachable(*idx.Subject, set)
		}
	case core.MediaTypeImageManifest:
		var m core.Manifest
		if err := l.readBlob(desc.Digest, &m); err != nil {
			return
		}
		l.reachable(m.Config, set)
		for _, layer := range m.Layers {
			l.reachable(layer, set)
		}
		if m.Subject != nil {
			l.reachable(*m.Subject, set)
		}
	}
}

// allBlobs lists every digest currently stored under blobs/<algo>/.
func (l *Layout) allBlobs() ([]core.Digest, error) {
	var digests []core.Digest
	blobsDir := filepath.Join(l.root, "blobs")
	algoDirs, err := os.ReadDir(blobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", blobsDir, err)
	}
	for _, algoDir := range algoDirs {
		if !algoDir.IsDir() {
			continue
		}
		algo := algoDir.Name()
		entries, err := os.ReadDir(filepath.Join(blobsDir, algo))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", algo, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			digests = append(digests, core.Digest(algo+":"+e.Name()))
		}
	}
	return digests, nil
}

// GC removes every blob not reachable from a tagged index entry. It refuses
// to run while any Push is in flight, since an in-progress push has not yet
// added its descriptor to the index and its staging file is invisible to
// the reachability walk, making it look indistinguishable from garbage.
func (l *Layout) GC(ctx context.Context) ([]core.Digest, error) {
	if n := l.pushing.Len(); n > 0 {
		return nil, core.NewGenericError(fmt.Sprintf("%d push(es) in progress, refusing to collect garbage", n))
	}

	l.mu.Lock()
	roots := append([]core.Descriptor(nil), l.index.Manifests...)
	l.mu.Unlock()

	live := make(map[core.Digest]struct{}, len(roots)*4)
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.reachable(root, live)
	}

	all, err := l.allBlobs()
	if err != nil {
		return nil, err
	}

	var removed []core.Digest
	for _, d := range all {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, ok := live[d]; ok {
			continue
		}
		path := filepath.Join(l.root, "blobs", d.Algorithm().String(), d.Encoded())
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove blob %s: %w", d, err)
		}
		removed = append(removed, d)
	}

	l.logger.Debug("gc complete", "removed", len(removed), "live", len(live))
	return removed, nil
}
