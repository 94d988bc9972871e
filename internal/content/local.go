package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/upstream"
)

// LocalAddresser writes artifacts under a directory, named by their sha256.
type LocalAddresser struct {
	dir string
}

func NewLocalAddresser(dir string) (*LocalAddresser, error) {
	if dir == "" {
		return nil, errors.New("content directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create content directory: %w", err)
	}
	return &LocalAddresser{dir: dir}, nil
}

func (a *LocalAddresser) Upload(ctx context.Context, data []byte, _ string) (id.ContentHash, error) {
	if err := ctx.Err(); err != nil {
		return "", upstream.FromTransport(upstreamName, err)
	}
	sum := sha256.Sum256(data)
	hash := "sha256-" + hex.EncodeToString(sum[:])
	path := filepath.Join(a.dir, hash)

	if _, err := os.Stat(path); err == nil {
		return id.ContentHash(hash), nil
	}

	tmp, err := os.CreateTemp(a.dir, ".upload-*")
	if err != nil {
		return "", upstream.NewError(upstream.ErrorOutage, upstreamName, "create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", upstream.NewError(upstream.ErrorOutage, upstreamName, "write artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return "", upstream.NewError(upstream.ErrorOutage, upstreamName, "close artifact", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", upstream.NewError(upstream.ErrorOutage, upstreamName, "store artifact", err)
	}
	return id.ContentHash(hash), nil
}

// Read returns a stored artifact.
func (a *LocalAddresser) Read(hash id.ContentHash) ([]byte, error) {
	if _, err := id.ParseContentHash(hash.String()); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(a.dir, hash.String()))
}
