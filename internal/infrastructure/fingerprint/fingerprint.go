// Package fingerprint identifies source content and checks for exclusive
// access to source files.
package fingerprint

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// Blob fingerprints a file by its git blob hash, folded to 64 bits.
type Blob struct{}

var _ ports.Fingerprinter = Blob{}

// Fingerprint hashes the file at path. Identical content always yields the
// same value regardless of path or modification time.
func (Blob) Fingerprint(ctx context.Context, path string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}

	hasher := plumbing.NewHasher(plumbing.BlobObject, info.Size())
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return Fold(hasher.Sum()), nil
}

// Fold reduces a git hash to the numeric fingerprint jobs carry.
func Fold(h plumbing.Hash) uint64 {
	return binary.BigEndian.Uint64(h[:8])
}

// Bytes fingerprints in-memory content the same way Blob fingerprints files.
func Bytes(content []byte) uint64 {
	return Fold(plumbing.ComputeHash(plumbing.BlobObject, content))
}

// OpenLocker tests exclusive access by opening the file for writing. A file
// held open exclusively by another process fails to open on platforms that
// enforce sharing modes.
type OpenLocker struct{}

var _ ports.FileLocker = OpenLocker{}

// TryLock reports whether path could be opened for exclusive use. A missing
// file is an error, not a locked file.
func (OpenLocker) TryLock(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, err
		}
		if os.IsPermission(err) {
			// Read-only sources cannot be written by anyone else either.
			r, rerr := os.Open(path)
			if rerr != nil {
				return false, nil
			}
			_ = r.Close()
			return true, nil
		}
		return false, nil
	}
	_ = f.Close()
	return true, nil
}
