package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/ocidist/core"
)

// writeJSONAtomic marshals v and publishes it to path via write-temp,
// fsync, rename so readers never observe a partial file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"
	//nolint:gosec // G304: path is always layout-internal, never user input
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// syncIndexLocked persists l.index to index.json. Caller must hold l.mu.
func (l *Layout) syncIndexLocked() error {
	return writeJSONAtomic(filepath.Join(l.root, "index.json"), l.index)
}

// Tag associates ref with desc in the index: an existing entry tagged with
// the same ref name is replaced, and an existing untagged entry with desc's
// digest is dropped; otherwise a new entry is appended.
func (l *Layout) Tag(desc core.Descriptor, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tagged := desc
	annotations := make(map[string]string, len(tagged.Annotations)+1)
	for k, v := range tagged.Annotations {
		annotations[k] = v
	}
	annotations[core.AnnotationRefName] = ref
	tagged.Annotations = annotations

	manifests := make([]core.Descriptor, 0, len(l.index.Manifests)+1)
	replaced := false
	for _, m := range l.index.Manifests {
		if m.Annotations[core.AnnotationRefName] == ref {
			manifests = append(manifests, tagged)
			replaced = true
			continue
		}
		if m.Digest == desc.Digest && m.Annotations[core.AnnotationRefName] == "" {
			continue // untagged duplicate, superseded by the tagged copy;
			// an entry carrying a different ref name stays, since one
			// manifest may legitimately be tagged more than once
		}
		manifests = append(manifests, m)
	}
	if !replaced {
		manifests = append(manifests, tagged)
	}
	l.index.Manifests = manifests

	return l.syncIndexLocked()
}

// Resolve returns the top-level manifest descriptor whose ref-name
// annotation equals ref, or, if ref parses as a digest, whose digest
// matches. Fails with ErrDescriptorNotFound if no entry matches.
func (l *Layout) Resolve(ref string) (core.Descriptor, error) {
	wantDigest, digestErr := core.ParseDigest(ref)

	return l.ResolveFunc(func(d core.Descriptor) bool {
		if d.Annotations[core.AnnotationRefName] == ref {
			return true
		}
		return digestErr == nil && d.Digest == wantDigest
	})
}

// ResolveFunc scans the index for the first manifest descriptor satisfying
// pred.
func (l *Layout) ResolveFunc(pred func(core.Descriptor) bool) (core.Descriptor, error) {
	l.mu.Lock()
	manifests := append([]core.Descriptor(nil), l.index.Manifests...)
	l.mu.Unlock()

	for _, d := range manifests {
		if pred(d) {
			return d, nil
		}
	}
	return core.Descriptor{}, core.ErrDescriptorNotFound
}

// Manifests returns a snapshot of the current top-level index entries.
func (l *Layout) Manifests() []core.Descriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Descriptor(nil), l.index.Manifests...)
}
