// Package blob uploads message media from device storage and fetches remote
// media back into a local cache.
package blob

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/matheus3301/courier/internal/model"
)

// ErrNotFound is returned when a download target does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a media blob store.
type Store interface {
	// UploadImage uploads the image at localURI and returns its remote URL.
	UploadImage(ctx context.Context, chatID, messageID, localURI string) (string, error)
	// UploadVoice uploads the audio at localURI and returns its remote URL.
	UploadVoice(ctx context.Context, chatID, messageID, localURI string) (string, error)
	// Download fetches remoteURL into local storage and returns the file path.
	Download(ctx context.Context, remoteURL string) (string, error)
}

// UploadContent uploads the local media referenced by c, if any, and returns
// the content rewritten to point at the remote URL. Content without local
// media is returned unchanged.
func UploadContent(ctx context.Context, s Store, chatID, messageID string, c model.Content) (model.Content, error) {
	if !c.HasLocalMedia() {
		return c, nil
	}
	if s == nil {
		return c, errors.New("upload media: no blob store configured")
	}
	var (
		remote string
		err    error
	)
	switch c.Type() {
	case model.ContentVoice:
		remote, err = s.UploadVoice(ctx, chatID, messageID, c.AudioURL)
	case model.ContentImage:
		remote, err = s.UploadImage(ctx, chatID, messageID, c.ImageURL)
	}
	if err != nil {
		return c, fmt.Errorf("upload media: %w", err)
	}
	return c.WithMediaURL(remote), nil
}

// LocalPath turns a device-local URI into a filesystem path.
func LocalPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return uri
}

func objectKey(chatID, kind, messageID, localURI string) string {
	ext := strings.ToLower(filepath.Ext(LocalPath(localURI)))
	return path.Join("chats", chatID, kind, messageID+ext)
}

func contentType(key, fallback string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return fallback
}

const (
	kindImages = "images"
	kindVoice  = "voice"
)
