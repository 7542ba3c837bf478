package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// S3 mirrors a prefix of an S3-compatible bucket. Keys below the prefix
// that contain a further "/" are reported as directories and never fetched.
type S3 struct {
	cfg    config.Remote
	client *minio.Client
}

// DialS3 creates the client and checks that the bucket exists.
func DialS3(ctx context.Context, cfg config.Remote) (*S3, error) {
	client, err := minio.New(cfg.HostPort(), &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.Username, cfg.Password, ""),
		Secure:       cfg.UseSSL,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing s3 client: %w", err)
	}

	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	logging.Get("remote").Info("connected", "target", cfg.Target())
	return &S3{cfg: cfg, client: client}, nil
}

func (s *S3) Target() string { return s.cfg.Target() }

func (s *S3) Close() error { return nil }

func (s *S3) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := keyPrefix(dir)

	// Stops the listing goroutine when we return on an error.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var entries []Entry
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", s.cfg.Bucket, prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		isDir := strings.HasSuffix(name, "/")
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}
		entries = append(entries, Entry{
			Name:     name,
			Size:     uint64(max(obj.Size, 0)),
			FullPath: obj.Key,
			ModTime:  obj.LastModified,
			IsDir:    isDir,
		})
	}
	return entries, nil
}

func (s *S3) Open(ctx context.Context, fullPath string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, fullPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("opening s3://%s/%s: %w", s.cfg.Bucket, fullPath, err)
	}
	return obj, nil
}

// keyPrefix turns a directory into a listing prefix: no leading slash and
// exactly one trailing slash, or empty for the bucket root.
func keyPrefix(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return ""
	}
	return dir + "/"
}
