package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/courier/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDirUploadAndDownload(t *testing.T) {
	d := NewDir(t.TempDir(), "https://cdn.example.com/")
	src := writeFile(t, "photo.JPG", "jpeg bytes")
	ctx := context.Background()

	remote, err := d.UploadImage(ctx, "chat1", "srv1", "file://"+src)
	if err != nil {
		t.Fatal(err)
	}
	if want := "https://cdn.example.com/chats/chat1/images/srv1.jpg"; remote != want {
		t.Errorf("url = %q, want %q", remote, want)
	}
	if model.IsLocalURI(remote) {
		t.Error("uploaded url still counts as local")
	}

	local, err := d.Download(ctx, remote)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jpeg bytes" {
		t.Errorf("downloaded %q, want original bytes", data)
	}

	_, err = d.Download(ctx, "https://cdn.example.com/chats/chat1/images/missing.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUploadContent(t *testing.T) {
	d := NewDir(t.TempDir(), "")
	ctx := context.Background()
	voice := writeFile(t, "note.m4a", "aac")

	tests := []struct {
		name    string
		content model.Content
		want    model.Content
	}{
		{
			"text untouched",
			model.Content{Text: "hi"},
			model.Content{Text: "hi"},
		},
		{
			"remote image untouched",
			model.Content{ImageURL: "https://x/a.jpg", Text: "cap"},
			model.Content{ImageURL: "https://x/a.jpg", Text: "cap"},
		},
		{
			"local voice rewritten",
			model.Content{AudioURL: voice, AudioDuration: 4, AudioSize: 3},
			model.Content{AudioURL: "blob://local/chats/c1/voice/m1.m4a", AudioDuration: 4, AudioSize: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UploadContent(ctx, d, "c1", "m1", tt.content)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUploadContentMissingFile(t *testing.T) {
	d := NewDir(t.TempDir(), "")
	c := model.Content{ImageURL: "/does/not/exist.png"}
	got, err := UploadContent(context.Background(), d, "c1", "m1", c)
	if err == nil {
		t.Fatal("expected error for missing local file")
	}
	if got != c {
		t.Errorf("content changed on failure: %+v", got)
	}
}
