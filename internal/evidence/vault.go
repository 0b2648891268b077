// Package evidence is the content-addressed file vault for complaint
// attachments. Files are stored under their SHA-256 digest, so the checksum
// recorded next to the complaint is enough to prove an attachment was not
// swapped after upload.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sahay/backend/internal/core"
)

// MaxFileSize caps a single attachment at 10 MiB.
const MaxFileSize = 10 << 20

// allowedContentTypes for attachments. Documents and images only.
var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
	"audio/mpeg":      true,
	"audio/ogg":       true,
}

// Vault stores files on disk keyed by content digest.
type Vault struct {
	dir string
}

// NewVault ensures the storage directory exists.
func NewVault(dir string) (*Vault, error) {
	if dir == "" {
		return nil, fmt.Errorf("evidence dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Vault{dir: dir}, nil
}

// AllowedContentType reports whether the vault accepts this media type.
func AllowedContentType(ct string) bool { return allowedContentTypes[ct] }

// path shards by the first two hex digits to keep directories small.
func (v *Vault) path(checksum string) string {
	return filepath.Join(v.dir, checksum[:2], checksum)
}

// Put streams r into the vault and returns the hex SHA-256 checksum and the
// byte count. The write goes to a temp file first and is renamed into place
// only after the digest is known, so a partial upload never becomes
// addressable. Re-uploading identical content is a no-op.
func (v *Vault) Put(r io.Reader, contentType string) (string, int64, error) {
	if !AllowedContentType(contentType) {
		return "", 0, core.Ef(core.KindValidation, "content type %q not allowed", contentType)
	}

	tmp, err := os.CreateTemp(v.dir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return "", 0, fmt.Errorf("write evidence: %w", err)
	}
	if n > MaxFileSize {
		return "", 0, core.Ef(core.KindValidation, "file exceeds %d bytes", MaxFileSize)
	}
	if n == 0 {
		return "", 0, core.E(core.KindValidation, "empty file")
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}

	checksum := hex.EncodeToString(h.Sum(nil))
	dst := v.path(checksum)
	if _, err := os.Stat(dst); err == nil {
		return checksum, n, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", 0, fmt.Errorf("create shard dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, fmt.Errorf("store evidence: %w", err)
	}
	return checksum, n, nil
}

// Open returns a reader for the file with the given checksum.
func (v *Vault) Open(checksum string) (io.ReadCloser, error) {
	if len(checksum) != 64 {
		return nil, core.E(core.KindValidation, "malformed checksum")
	}
	f, err := os.Open(v.path(checksum))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.E(core.KindNotFound, "evidence not found")
		}
		return nil, err
	}
	return f, nil
}

// Verify re-hashes the stored file and compares against its address. A
// mismatch means the file was altered on disk.
func (v *Vault) Verify(checksum string) error {
	f, err := v.Open(checksum)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if hex.EncodeToString(h.Sum(nil)) != checksum {
		return core.Ef(core.KindChainBroken, "evidence %s does not match its checksum", checksum)
	}
	return nil
}
