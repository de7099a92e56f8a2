// Package s3 implements storage.Backend against Amazon S3 (or an
// S3-compatible service), mirroring
// original_source/hatrac/model/storage/amazons3.py: bucket-versioning-backed
// version tags, multipart upload, and presigned-URL redirects for large
// downloads.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/informatics-isi-edu/hatrac/herr"
	"github.com/informatics-isi-edu/hatrac/storage"
)

const bufSize = 10 << 20 // 10 MiB, matching the original's S3 _bufsize

// BucketConfig parameterizes one bucket a path prefix is routed to, mirroring
// amazons3.py's BucketConfig.
type BucketConfig struct {
	PathPrefix                string
	BucketName                string
	BucketPathPrefix          string // default "hatrac"
	Region                    string
	PresignedURLThreshold     int64
	PresignedURLExpiration    time.Duration
	EnforceVersioningEnabled  bool
}

// Config is the top-level S3 backend configuration: a list of bucket
// configs in any order; New sorts them most-specific-prefix-first.
type Config struct {
	Buckets []BucketConfig
}

type boundBucket struct {
	cfg    BucketConfig
	client *s3.S3
}

// Backend routes object paths to per-prefix S3 buckets (amazons3.py's
// BucketTree/BucketConfigMapper), each with its own long-lived, reused,
// concurrency-safe *s3.S3 client.
type Backend struct {
	buckets []boundBucket // sorted longest-prefix-first
	limiter *storage.TransferLimiter
}

// New constructs one S3 client per configured bucket and returns a ready
// Backend.
func New(cfg Config, maxConcurrentTransfers int64) (*Backend, error) {
	if len(cfg.Buckets) == 0 {
		return nil, herr.BadRequestf("s3 backend requires at least one bucket configuration")
	}
	sess, err := session.NewSession()
	if err != nil {
		return nil, herr.Wrap(herr.Internal, err, "creating AWS session")
	}
	b := &Backend{limiter: storage.NewTransferLimiter(maxConcurrentTransfers)}
	for _, bc := range cfg.Buckets {
		if bc.BucketPathPrefix == "" {
			bc.BucketPathPrefix = "hatrac"
		}
		awsCfg := aws.NewConfig()
		if bc.Region != "" {
			awsCfg = awsCfg.WithRegion(bc.Region)
		}
		b.buckets = append(b.buckets, boundBucket{cfg: bc, client: s3.New(sess, awsCfg)})
	}
	sort.Slice(b.buckets, func(i, j int) bool {
		return len(b.buckets[i].cfg.PathPrefix) > len(b.buckets[j].cfg.PathPrefix)
	})
	return b, nil
}

func (b *Backend) TracksChunks() bool { return true }

func (b *Backend) resolve(name string) (boundBucket, error) {
	for _, bb := range b.buckets {
		if strings.HasPrefix(name, bb.cfg.PathPrefix) {
			return bb, nil
		}
	}
	return boundBucket{}, herr.BadRequestf("no configured S3 bucket matches path %s", name)
}

func (bb boundBucket) objectKey(name string) string {
	rel := strings.TrimPrefix(name, bb.cfg.PathPrefix)
	rel = strings.TrimPrefix(rel, "/")
	return bb.cfg.BucketPathPrefix + "/" + rel
}

// awsErrToHatrac translates AWS SDK client errors into the herr taxonomy,
// grounded on eef808a24ff-aistore's ais/cloud/aws.go awsErrorToAISError.
func awsErrToHatrac(err error, notFoundKind herr.Kind) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NoSuchVersion", "InvalidArgument":
			return herr.New(notFoundKind, "%s", aerr.Message())
		}
		return herr.Wrap(herr.BadRequest, err, "S3 request failed: %s", aerr.Code())
	}
	return herr.Wrap(herr.Internal, err, "S3 request failed")
}

func (b *Backend) CreateFromFile(ctx context.Context, name string, r io.Reader, nbytes int64, metadata map[string][]byte) (string, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return "", herr.Wrap(herr.Internal, err, "acquiring transfer slot")
	}
	defer b.limiter.Release()

	bb, err := b.resolve(name)
	if err != nil {
		return "", err
	}
	if err := bb.enforceVersioningEnabled(ctx); err != nil {
		return "", err
	}
	body, err := bufferForPut(r, nbytes)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(bb.cfg.BucketName),
		Key:    aws.String(bb.objectKey(name)),
		Body:   body,
	}
	if ct, ok := metadata["content-type"]; ok {
		input.ContentType = aws.String(string(ct))
	}
	if cd, ok := metadata["content-disposition"]; ok {
		input.ContentDisposition = aws.String(string(cd))
	}
	out, err := bb.client.PutObjectWithContext(ctx, input)
	if err != nil {
		return "", awsErrToHatrac(err, herr.Internal)
	}
	if out.VersionId == nil {
		return "", herr.Conflictf("bucket %s does not have versioning enabled", bb.cfg.BucketName)
	}
	return *out.VersionId, nil
}

func bufferForPut(r io.Reader, nbytes int64) (*bytes.Reader, error) {
	buf := make([]byte, nbytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, herr.BadRequestf("expected %d bytes: %v", nbytes, err)
	}
	return bytes.NewReader(buf), nil
}

func (bb boundBucket) enforceVersioningEnabled(ctx context.Context) error {
	if !bb.cfg.EnforceVersioningEnabled {
		return nil
	}
	out, err := bb.client.GetBucketVersioningWithContext(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(bb.cfg.BucketName)})
	if err != nil {
		return awsErrToHatrac(err, herr.Internal)
	}
	if out.Status == nil || *out.Status != s3.BucketVersioningStatusEnabled {
		return herr.Conflictf("bucket %s must have versioning Enabled", bb.cfg.BucketName)
	}
	return nil
}

func (b *Backend) CreateUpload(ctx context.Context, name string, nbytes int64, metadata map[string][]byte) (string, error) {
	bb, err := b.resolve(name)
	if err != nil {
		return "", err
	}
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bb.cfg.BucketName),
		Key:    aws.String(bb.objectKey(name)),
	}
	if ct, ok := metadata["content-type"]; ok {
		input.ContentType = aws.String(string(ct))
	}
	out, err := bb.client.CreateMultipartUploadWithContext(ctx, input)
	if err != nil {
		return "", awsErrToHatrac(err, herr.Internal)
	}
	return *out.UploadId, nil
}

func (b *Backend) UploadChunkFromFile(ctx context.Context, name, jobToken string, position, chunkSize int64, r io.Reader, nbytes int64) ([]byte, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return nil, herr.Wrap(herr.Internal, err, "acquiring transfer slot")
	}
	defer b.limiter.Release()

	bb, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	body, err := bufferForPut(r, nbytes)
	if err != nil {
		return nil, err
	}
	partNumber := position + 1 // S3 part numbers are 1-based
	out, err := bb.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bb.cfg.BucketName),
		Key:        aws.String(bb.objectKey(name)),
		UploadId:   aws.String(jobToken),
		PartNumber: aws.Int64(partNumber),
		Body:       body,
	})
	if err != nil {
		return nil, awsErrToHatrac(err, herr.Internal)
	}
	return []byte(*out.ETag), nil
}

func (b *Backend) FinalizeUpload(ctx context.Context, name, jobToken string, chunks []storage.ChunkData, metadata map[string][]byte) (string, error) {
	bb, err := b.resolve(name)
	if err != nil {
		return "", err
	}
	parts := make([]*s3.CompletedPart, len(chunks))
	for i, c := range chunks {
		parts[i] = &s3.CompletedPart{
			ETag:       aws.String(string(c.Aux)),
			PartNumber: aws.Int64(c.Position + 1),
		}
	}
	out, err := bb.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bb.cfg.BucketName),
		Key:             aws.String(bb.objectKey(name)),
		UploadId:        aws.String(jobToken),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return "", awsErrToHatrac(err, herr.Internal)
	}
	if out.VersionId == nil {
		return "", herr.Conflictf("bucket %s does not have versioning enabled", bb.cfg.BucketName)
	}
	return *out.VersionId, nil
}

func (b *Backend) CancelUpload(ctx context.Context, name, jobToken string) error {
	bb, err := b.resolve(name)
	if err != nil {
		return err
	}
	_, err = bb.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bb.cfg.BucketName),
		Key:      aws.String(bb.objectKey(name)),
		UploadId: aws.String(jobToken),
	})
	if err != nil {
		return awsErrToHatrac(err, herr.Internal)
	}
	return nil
}

func (b *Backend) overThreshold(bb boundBucket, nbytes int64) bool {
	return bb.cfg.PresignedURLThreshold > 0 && nbytes > bb.cfg.PresignedURLThreshold
}

func (b *Backend) GetContentRange(ctx context.Context, name, versionTag string, metadata map[string][]byte, rng *storage.Range, aux []byte) (*storage.Content, error) {
	bb, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	key := bb.objectKey(name)

	if rng == nil {
		head, err := bb.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bb.cfg.BucketName), Key: aws.String(key), VersionId: aws.String(versionTag),
		})
		if err != nil {
			return nil, awsErrToHatrac(err, herr.ObjectVersionMissing)
		}
		nbytes := aws.Int64Value(head.ContentLength)
		if b.overThreshold(bb, nbytes) {
			expires := bb.cfg.PresignedURLExpiration
			if expires <= 0 {
				expires = 300 * time.Second
			}
			req, _ := bb.client.GetObjectRequest(&s3.GetObjectInput{
				Bucket: aws.String(bb.cfg.BucketName), Key: aws.String(key), VersionId: aws.String(versionTag),
			})
			url, err := req.Presign(expires)
			if err != nil {
				return nil, herr.Wrap(herr.Internal, err, "presigning %s", key)
			}
			return &storage.Content{NBytes: nbytes, Metadata: metadata, Redirect: &storage.Redirect{URL: url}}, nil
		}
	}

	input := &s3.GetObjectInput{Bucket: aws.String(bb.cfg.BucketName), Key: aws.String(key), VersionId: aws.String(versionTag)}
	outMeta := metadata
	if rng != nil {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Start, rng.Stop-1))
		outMeta = map[string][]byte{}
		if ct, ok := metadata["content-type"]; ok {
			outMeta["content-type"] = ct
		}
	}
	out, err := bb.client.GetObjectWithContext(ctx, input)
	if err != nil {
		return nil, awsErrToHatrac(err, herr.ObjectVersionMissing)
	}
	return &storage.Content{NBytes: aws.Int64Value(out.ContentLength), Metadata: outMeta, Body: out.Body}, nil
}

func (b *Backend) Delete(ctx context.Context, name, versionTag string, aux []byte) error {
	bb, err := b.resolve(name)
	if err != nil {
		return err
	}
	_, err = bb.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bb.cfg.BucketName), Key: aws.String(bb.objectKey(name)), VersionId: aws.String(versionTag),
	})
	if err != nil {
		return awsErrToHatrac(err, herr.ObjectVersionMissing)
	}
	return nil
}

// DeleteNamespace is a no-op: S3 has no real directories to clean up.
func (b *Backend) DeleteNamespace(ctx context.Context, name string) error { return nil }

// PurgeStaleMultipartUploads aborts multipart uploads older than maxAge
// across all configured buckets, an admin-plane operation corresponding to
// amazons3.py's purge_all_multipart_uploads, never reachable from the HTTP
// surface.
func (b *Backend) PurgeStaleMultipartUploads(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	purged := 0
	for _, bb := range b.buckets {
		out, err := bb.client.ListMultipartUploadsWithContext(ctx, &s3.ListMultipartUploadsInput{Bucket: aws.String(bb.cfg.BucketName)})
		if err != nil {
			return purged, awsErrToHatrac(err, herr.Internal)
		}
		for _, u := range out.Uploads {
			if u.Initiated != nil && u.Initiated.Before(cutoff) {
				_, err := bb.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
					Bucket: aws.String(bb.cfg.BucketName), Key: u.Key, UploadId: u.UploadId,
				})
				if err == nil {
					purged++
				}
			}
		}
	}
	return purged, nil
}
