// Package objectstore is the typed get/put/list/delete/multipart adapter
// described in spec §4.A. It is grounded on original_source's s3.rs
// (bucket-scoped client, path-style addressing) and s3_multipart.rs
// (buffer/flush/complete/abort discipline), reimplemented against
// aws-sdk-go-v2 — the S3 SDK the retrieval pack's own object-storage
// examples (ghjramos-aistore, Hawthorne001-aistore) depend on.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"sailrace/internal/apperr"
	"sailrace/internal/config"
)

// Entry is one result of a List call.
type Entry struct {
	Key  string
	Size int64
}

// Store is the narrow capability interface every component depends on
// rather than reaching for a concrete S3 client directly (spec §9's
// "one narrow capability interface" design note).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Delete(ctx context.Context, key string) error
	NewMultipart(ctx context.Context, key string) (Multipart, error)
}

// Multipart is a single upload session: buffered writes, then exactly one
// of Complete or Abort.
type Multipart interface {
	Write(ctx context.Context, data []byte) error
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
}

// S3Store implements Store over one bucket of an S3-compatible endpoint.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store scopes client to one bucket. Path-style addressing (required
// for MinIO and other S3-compatible backends, per original_source's
// with_virtual_hosted_style_request(false)) is configured by NewClient.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Transient("objectstore: read body", err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			key = strings.TrimPrefix(key, "/")
			entries = append(entries, Entry{Key: key, Size: aws.ToInt64(obj.Size)})
		}
	}
	return entries, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *S3Store) NewMultipart(ctx context.Context, key string) (Multipart, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.Transient("objectstore: initiate multipart upload", err)
	}
	return &s3Multipart{
		client:   s.client,
		bucket:   s.bucket,
		key:      key,
		uploadID: aws.ToString(out.UploadId),
		buffer:   make([]byte, 0, config.MultipartBufferCap),
	}, nil
}

// s3Multipart buffers writes and flushes a part whenever the buffer
// reaches MultipartMinPartSize, exactly mirroring S3MultipartUploader in
// original_source's s3_multipart.rs.
type s3Multipart struct {
	client   *s3.Client
	bucket   string
	key      string
	uploadID string
	buffer   []byte
	parts    []types.CompletedPart
	partNum  int32
	uploaded int64
}

func (m *s3Multipart) Write(ctx context.Context, data []byte) error {
	m.buffer = append(m.buffer, data...)
	for len(m.buffer) >= config.MultipartMinPartSize {
		if err := m.flushPart(ctx, config.MultipartMinPartSize); err != nil {
			return err
		}
	}
	return nil
}

func (m *s3Multipart) flushPart(ctx context.Context, size int) error {
	if size > len(m.buffer) {
		size = len(m.buffer)
	}
	chunk := m.buffer[:size]
	m.buffer = append([]byte(nil), m.buffer[size:]...)

	m.partNum++
	out, err := m.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(m.bucket),
		Key:        aws.String(m.key),
		UploadId:   aws.String(m.uploadID),
		PartNumber: aws.Int32(m.partNum),
		Body:       bytes.NewReader(chunk),
	})
	if err != nil {
		return apperr.Transient("objectstore: upload part", err)
	}
	m.parts = append(m.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(m.partNum),
	})
	m.uploaded += int64(size)
	return nil
}

// Complete flushes any remainder (S3 permits the last part to be smaller
// than the minimum) and finalizes the upload.
func (m *s3Multipart) Complete(ctx context.Context) error {
	if len(m.buffer) > 0 {
		if err := m.flushPart(ctx, len(m.buffer)); err != nil {
			return err
		}
	}
	if len(m.parts) == 0 {
		// S3 requires at least one part; upload an empty final part so
		// complete() always has something to reference.
		if err := m.flushPart(ctx, 0); err != nil {
			return err
		}
	}
	_, err := m.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(m.key),
		UploadId: aws.String(m.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: m.parts,
		},
	})
	if err != nil {
		return apperr.Transient("objectstore: complete multipart upload", err)
	}
	return nil
}

// Abort cancels the upload so no partial object ever appears under a
// finalized key (spec §4.E idempotence guarantee (b)).
func (m *s3Multipart) Abort(ctx context.Context) error {
	_, err := m.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(m.key),
		UploadId: aws.String(m.uploadID),
	})
	if err != nil {
		return apperr.Transient("objectstore: abort multipart upload", err)
	}
	return nil
}

// classify maps S3/smithy errors onto the spec §7 taxonomy.
func classify(err error) error {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return apperr.NotFound("objectstore: key not found", err)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == 404:
			return apperr.NotFound("objectstore: not found", err)
		case respErr.HTTPStatusCode() >= 500:
			return apperr.Transient("objectstore: server error", err)
		case respErr.HTTPStatusCode() == 401 || respErr.HTTPStatusCode() == 403:
			return apperr.Fatal("objectstore: auth failure", err)
		}
	}
	return apperr.Transient("objectstore: request failed", err)
}
