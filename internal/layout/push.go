package layout

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/meigma/ocidist/core"
)

// Exists reports whether desc's blob is present on disk. A file present at
// the expected path with the wrong length is reported as a SizeMismatchError
// rather than a bare false, so callers can tell "absent" from "corrupt"
// and repair the latter by re-pushing.
func (l *Layout) Exists(desc core.Descriptor) (bool, error) {
	info, err := os.Stat(l.blobPath(desc.Digest))
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat %s: %w", desc.Digest, err)
	case info.Size() != desc.Size:
		return false, &core.SizeMismatchError{Expected: desc.Size, Actual: info.Size()}
	default:
		return true, nil
	}
}

// Open returns a reader over desc's blob bytes as currently stored on disk.
// Callers that need to re-upload a local blob to a registry use this
// instead of reaching into the layout's directory structure directly.
func (l *Layout) Open(desc core.Descriptor) (io.ReadCloser, error) {
	f, err := os.Open(l.blobPath(desc.Digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrBlobNotFound
		}
		return nil, fmt.Errorf("open blob %s: %w", desc.Digest, err)
	}
	return f, nil
}

func newHash(algo core.Algorithm) (hash.Hash, error) {
	switch algo {
	case core.SHA256:
		return sha256.New(), nil
	case core.SHA512:
		return sha512.New(), nil
	default:
		return nil, &core.InvalidDigestError{Digest: string(algo), Reason: "unsupported algorithm"}
	}
}

// Push streams src into the layout under desc's digest. Concurrent pushes of
// the same descriptor serialize on a per-digest lock, so only one staging
// file is ever written per digest at a time; a push that finds the blob
// already present short-circuits without touching the filesystem again.
//
// onProgress, if non-nil, is invoked after every chunk read from src with
// the cumulative byte count written so far.
func (l *Layout) Push(ctx context.Context, desc core.Descriptor, src io.Reader, onProgress func(transferred int64)) error {
	key := string(desc.Digest)
	e := l.pushing.acquire(key)
	defer l.pushing.release(key, e)

	if ok, err := l.Exists(desc); err != nil {
		var sizeErr *core.SizeMismatchError
		if !errors.As(err, &sizeErr) {
			return err
		}
		l.logger.Debug("existing blob has wrong size, re-pushing", "digest", desc.Digest)
	} else if ok {
		l.logger.Debug("push short-circuit, blob already present", "digest", desc.Digest)
		if onProgress != nil {
			onProgress(desc.Size)
		}
		return nil
	}

	h, err := newHash(desc.Digest.Algorithm())
	if err != nil {
		return err
	}

	dir := filepath.Join(l.root, "blobs", desc.Digest.Algorithm().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blobs dir: %w", err)
	}

	stagingPath := filepath.Join(dir, fmt.Sprintf(".staging-%s-%x", desc.Digest.Encoded(), rand.Int64()))
	//nolint:gosec // G304: stagingPath is derived from the descriptor's digest and a random nonce
	f, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	abort := func() {
		f.Close()
		os.Remove(stagingPath)
	}

	written, err := l.writeStaging(ctx, f, src, h, onProgress)
	if err != nil {
		abort()
		return err
	}

	if written != desc.Size {
		abort()
		return &core.SizeMismatchError{Expected: desc.Size, Actual: written}
	}

	computed := core.Digest(fmt.Sprintf("%s:%x", desc.Digest.Algorithm(), h.Sum(nil)))
	if computed != desc.Digest {
		abort()
		return &core.DigestMismatchError{Expected: desc.Digest, Actual: computed}
	}

	if err := f.Sync(); err != nil {
		abort()
		return fmt.Errorf("sync staging: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(stagingPath)
		return fmt.Errorf("close staging: %w", err)
	}

	if err := os.Rename(stagingPath, l.blobPath(desc.Digest)); err != nil {
		os.Remove(stagingPath)
		return fmt.Errorf("publish blob: %w", err)
	}

	l.logger.Debug("published blob", "digest", desc.Digest, "size", written)
	return nil
}

// writeStaging copies src into f, hashing every chunk and reporting
// cumulative progress, checking ctx at each chunk so cancellation is
// observed promptly without leaving a dangling read.
func (l *Layout) writeStaging(ctx context.Context, f *os.File, src io.Reader, h hash.Hash, onProgress func(int64)) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write staging: %w", err)
			}
			h.Write(buf[:n])
			written += int64(n)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("read source: %w", readErr)
		}
	}
}
