package metadump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/miku/metadump/fileutils"
	"github.com/miku/metadump/items"
)

var (
	ErrNoFiles     = errors.New("item has no file references")
	ErrInvalidHash = errors.New("invalid hash")
)

// Puller downloads item file payloads into a local, content addressed cache.
type Puller struct {
	Client   *items.Client
	CacheDir string
}

// cachePath returns the sharded path for a content hash and extension under
// the cache directory.
func (p *Puller) cachePath(sha1hex, ext string) (string, error) {
	if len(sha1hex) != ExpectedSHA1Length {
		return "", ErrInvalidHash
	}
	if len(ext) > 0 && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(p.CacheDir, sha1hex[0:2], sha1hex[2:4], sha1hex+ext), nil
}

// Pull fetches the primary file reference of an item into the cache and
// returns the final path and file info. Already cached payloads are not
// fetched again.
func (p *Puller) Pull(ctx context.Context, token string, m *items.ItemMetadata) (string, FileInfo, error) {
	var info FileInfo
	ref := m.MainFile()
	if ref == nil {
		return "", info, ErrNoFiles
	}
	tmpf, err := os.CreateTemp("", "metadump-pull-*")
	if err != nil {
		return "", info, err
	}
	defer os.Remove(tmpf.Name())
	n, err := p.Client.Download(ctx, token, ref.URL, tmpf)
	if err != nil {
		tmpf.Close()
		return "", info, err
	}
	if err := tmpf.Close(); err != nil {
		return "", info, err
	}
	if n == 0 {
		return "", info, ErrNoData
	}
	b, err := os.ReadFile(tmpf.Name())
	if err != nil {
		return "", info, err
	}
	info = GenerateFileInfo(b)
	if ref.SHA1 != "" && ref.SHA1 != info.SHA1Hex {
		return "", info, fmt.Errorf("checksum mismatch: got %s, want %s", info.SHA1Hex, ref.SHA1)
	}
	dst, err := p.cachePath(info.SHA1Hex, path.Ext(ref.Name))
	if err != nil {
		return "", info, err
	}
	if _, err := os.Stat(dst); err == nil {
		slog.Debug("payload already cached", "path", dst)
		return dst, info, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", info, err
	}
	if err := fileutils.MoveFile(dst, tmpf.Name()); err != nil {
		return "", info, err
	}
	slog.Info("pulled file", "item", m.ID, "path", dst, "size", info.Size, "type", info.Mimetype)
	return dst, info, nil
}
