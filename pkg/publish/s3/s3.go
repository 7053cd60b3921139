// Package s3 implements publish.Publisher against an S3 bucket,
// reproducing papr/publishers.py's S3Publisher: walk the staging tree,
// put each object under the bucket's root-dir/dest-key prefix with a
// per-extension content type, and land on the sole file or an
// "index.html" the caller must have generated.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/projectatomic/papr/pkg/publish"
)

// putObjectAPI is the subset of the S3 client used here, so tests can
// substitute an in-memory fake.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads staging directories to an S3 bucket.
type Publisher struct {
	Client  putObjectAPI
	Bucket  string
	RootDir string
}

func New(client *s3.Client, bucket, rootDir string) *Publisher {
	return &Publisher{Client: client, Bucket: bucket, RootDir: rootDir}
}

func (p *Publisher) PublishDir(ctx context.Context, dir, destKey string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "reading %q", dir)
	}
	if len(entries) == 0 {
		return "", errors.Errorf("publish: %q is empty", dir)
	}
	landing := "index.html"
	if len(entries) == 1 {
		landing = entries[0].Name()
	}

	prefix := path.Join(p.RootDir, destKey)

	err = filepath.Walk(dir, func(p2 string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p2)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p2)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(publish.ContentType(rel)),
		})
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "uploading staging directory")
	}

	return fmt.Sprintf("https://s3.amazonaws.com/%s/%s/%s", p.Bucket, prefix, landing), nil
}

func (p *Publisher) PublishBlob(ctx context.Context, data []byte, destKey, contentType string) (string, error) {
	key := path.Join(p.RootDir, destKey)
	_, err := p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "putting object %q", key)
	}
	return fmt.Sprintf("https://s3.amazonaws.com/%s/%s", p.Bucket, key), nil
}

// DestKey builds the deterministic-per-revision, monotonic-per-attempt
// destination key papr uses for SuiteRun staging uploads: a unix-nanos
// suffix with a uuid tiebreaker guards against the vanishingly rare case
// of two attempts landing in the same nanosecond.
func DestKey(repo, headSHA string, unixNanos int64) string {
	return fmt.Sprintf("%s/%s.%d.%s", repo, headSHA, unixNanos, uuid.NewString()[:8])
}
