package agfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/errdefs"
)

// S3 stores content in an S3 bucket. Directories are zero-byte marker
// objects whose keys end with "/", so empty directories survive listings.
type S3 struct {
	client *s3.S3
	bucket string
}

var _ FS = (*S3)(nil)

func NewS3(cfg config.AGFSConfig) (*S3, error) {
	awsCfg := &aws.Config{
		Region:     aws.String(cfg.Region),
		MaxRetries: aws.Int(3),
	}
	if cfg.URL != "" {
		awsCfg.Endpoint = aws.String(cfg.URL)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}
	return &S3{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

func isS3NotFound(err error) bool {
	if rfErr, ok := err.(awserr.RequestFailure); ok {
		return rfErr.StatusCode() == http.StatusNotFound
	}
	return false
}

func (s *S3) Read(ctx context.Context, path string) ([]byte, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errdefs.NotFound(path)
		}
		return nil, errdefs.Transient(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) Write(ctx context.Context, path string, data []byte) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errdefs.Transient(err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	path, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	if path == "" {
		return true, nil
	}
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	if !isS3NotFound(err) {
		return false, errdefs.Transient(err)
	}
	return s.IsDir(ctx, path)
}

func (s *S3) IsDir(ctx context.Context, path string) (bool, error) {
	path, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	if path == "" {
		return true, nil
	}
	out, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(path + "/"),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return false, errdefs.Transient(err)
	}
	return len(out.Contents) > 0, nil
}

func (s *S3) Mkdir(ctx context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path + "/"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return errdefs.Transient(err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, path string) ([]Entry, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	prefix := path
	if prefix != "" {
		prefix += "/"
	}

	var entries []Entry
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	for {
		out, err := s.client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, errdefs.Transient(err)
		}
		for _, cp := range out.CommonPrefixes {
			dir := strings.TrimSuffix(*cp.Prefix, "/")
			entries = append(entries, Entry{Name: baseOf(dir), Path: dir, IsDir: true})
		}
		for _, o := range out.Contents {
			key := *o.Key
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			entries = append(entries, Entry{Name: baseOf(key), Path: key, Size: *o.Size})
		}
		if out.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	if len(entries) == 0 && path != "" {
		ok, err := s.IsDir(ctx, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errdefs.NotFound(path)
		}
	}
	return entries, nil
}

func (s *S3) Walk(ctx context.Context, path string, fn func(Entry) error) error {
	keys, err := s.keysUnder(ctx, path)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if strings.HasSuffix(k.key, "/") {
			continue
		}
		if err := fn(Entry{Name: baseOf(k.key), Path: k.key, Size: k.size}); err != nil {
			return err
		}
	}
	return nil
}

type s3Key struct {
	key  string
	size int64
}

// keysUnder returns every key at or below path, including dir markers.
func (s *S3) keysUnder(ctx context.Context, path string) ([]s3Key, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	var keys []s3Key
	collect := func(prefix string) error {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		}
		for {
			out, err := s.client.ListObjectsV2WithContext(ctx, input)
			if err != nil {
				return errdefs.Transient(err)
			}
			for _, o := range out.Contents {
				keys = append(keys, s3Key{key: *o.Key, size: *o.Size})
			}
			if out.NextContinuationToken == nil {
				return nil
			}
			input.ContinuationToken = out.NextContinuationToken
		}
	}

	if path == "" {
		return keys, collect("")
	}
	// The file itself, then anything below it as a directory.
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		keys = append(keys, s3Key{key: path})
	} else if !isS3NotFound(err) {
		return nil, errdefs.Transient(err)
	}
	return keys, collect(path + "/")
}

func (s *S3) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, err := cleanPath(oldPath)
	if err != nil {
		return err
	}
	newPath, err = cleanPath(newPath)
	if err != nil {
		return err
	}
	if exists, err := s.Exists(ctx, newPath); err != nil {
		return err
	} else if exists {
		return errdefs.Conflict(newPath, fmt.Errorf("destination exists"))
	}

	keys, err := s.keysUnder(ctx, oldPath)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errdefs.NotFound(oldPath)
	}
	for _, k := range keys {
		dst := newPath + strings.TrimPrefix(k.key, oldPath)
		_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(s.bucket + "/" + k.key),
			Key:        aws.String(dst),
		})
		if err != nil {
			return errdefs.Transient(err)
		}
	}
	return s.Remove(ctx, oldPath)
}

func (s *S3) Remove(ctx context.Context, path string) error {
	keys, err := s.keysUnder(ctx, path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errdefs.NotFound(path)
	}
	for _, k := range keys {
		_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k.key),
		})
		if err != nil {
			return errdefs.Transient(err)
		}
	}
	return nil
}

func (s *S3) Close() error { return nil }
