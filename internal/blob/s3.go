package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores media objects in a bucket under chats/{chatID}/{images|voice}/.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	baseURL    string
	cacheDir   string
}

var _ Store = (*S3)(nil)

// NewS3 builds an S3 store from the default AWS credential chain. Objects are
// addressed as baseURL/key; an empty baseURL uses the virtual-hosted bucket URL.
// Downloads land under cacheDir.
func NewS3(ctx context.Context, region, bucket, baseURL, cacheDir string) (*S3, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		cacheDir:   cacheDir,
	}, nil
}

func (s *S3) UploadImage(ctx context.Context, chatID, messageID, localURI string) (string, error) {
	return s.upload(ctx, objectKey(chatID, kindImages, messageID, localURI), localURI, "image/jpeg")
}

func (s *S3) UploadVoice(ctx context.Context, chatID, messageID, localURI string) (string, error) {
	return s.upload(ctx, objectKey(chatID, kindVoice, messageID, localURI), localURI, "audio/mp4")
}

func (s *S3) upload(ctx context.Context, key, localURI, fallbackType string) (string, error) {
	f, err := os.Open(LocalPath(localURI))
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(key, fallbackType)),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

// Download fetches the object behind remoteURL unless it is already cached.
func (s *S3) Download(ctx context.Context, remoteURL string) (string, error) {
	key, ok := strings.CutPrefix(remoteURL, s.baseURL+"/")
	if !ok {
		return "", fmt.Errorf("download %s: not an object of bucket %s", remoteURL, s.bucket)
	}
	dst := filepath.Join(s.cacheDir, filepath.FromSlash(key))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = s.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		return "", fmt.Errorf("download %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	if closeErr != nil {
		return "", closeErr
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}
