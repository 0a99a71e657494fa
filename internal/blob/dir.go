package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir stores media under a local root directory and hands out URLs made of
// baseURL and the object key. It backs local profiles and tests.
type Dir struct {
	root    string
	baseURL string
}

var _ Store = (*Dir)(nil)

// DefaultDirBaseURL is used when NewDir gets an empty base URL.
const DefaultDirBaseURL = "blob://local"

// NewDir returns a Dir rooted at root.
func NewDir(root, baseURL string) *Dir {
	if baseURL == "" {
		baseURL = DefaultDirBaseURL
	}
	return &Dir{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (d *Dir) UploadImage(ctx context.Context, chatID, messageID, localURI string) (string, error) {
	return d.put(ctx, objectKey(chatID, kindImages, messageID, localURI), localURI)
}

func (d *Dir) UploadVoice(ctx context.Context, chatID, messageID, localURI string) (string, error) {
	return d.put(ctx, objectKey(chatID, kindVoice, messageID, localURI), localURI)
}

func (d *Dir) put(ctx context.Context, key, localURI string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := os.Open(LocalPath(localURI))
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return "", err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return d.baseURL + "/" + key, nil
}

// Download resolves remoteURL to the stored file.
func (d *Dir) Download(_ context.Context, remoteURL string) (string, error) {
	key, ok := strings.CutPrefix(remoteURL, d.baseURL+"/")
	if !ok || strings.Contains(key, "..") {
		return "", fmt.Errorf("download %s: not a local object", remoteURL)
	}
	p := filepath.Join(d.root, filepath.FromSlash(key))
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("download %s: %w", key, ErrNotFound)
	} else if err != nil {
		return "", err
	}
	return p, nil
}
