// Package store wraps an S3-compatible object store (the local RustFS
// instance, or an AWS S3 archive bucket) behind the small interface the
// recorder and eviction loop need, plus an in-memory session index used
// for fast ring-buffer-style eviction ordering.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/framebucket/framebucket/internal/ferrors"
)

// Entry records one object's size for eviction accounting.
type Entry struct {
	Key   string
	Bytes int64
}

// Store is an S3-compatible client plus an in-memory index of objects
// PUT during this process's lifetime. Ground truth for what exists is
// always the bucket; the index is an optimisation over it.
type Store struct {
	client *s3.Client
	bucket string

	mu    sync.Mutex
	index map[int64]Entry // captured_at_ms -> entry, iterated in key order
}

// Options configures a path-style, statically-credentialed S3 client,
// suitable for both the local RustFS endpoint and a remote AWS archive.
type Options struct {
	Endpoint  string // empty for real AWS S3
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// New builds a Store against the given endpoint/bucket. When Endpoint is
// empty the SDK's default resolver is used (real AWS S3); otherwise
// path-style addressing is forced, matching a local S3-compatible target.
func New(ctx context.Context, opts Options) (*Store, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("load aws config: %w", err))
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: opts.Bucket, index: make(map[int64]Entry)}, nil
}

// EnsureBucket creates the bucket if head_bucket fails. region controls
// whether a LocationConstraint is attached (never for us-east-1).
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return ferrors.Wrap(ferrors.StorePut, fmt.Errorf("create bucket %s: %w", s.bucket, err))
	}
	return nil
}

// Put uploads an object and records it in the session index under
// capturedAtMs, the temporal key used for eviction ordering.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string, capturedAtMs int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return ferrors.Wrap(ferrors.StorePut, fmt.Errorf("put %s: %w", key, err))
	}

	s.mu.Lock()
	s.index[capturedAtMs] = Entry{Key: key, Bytes: int64(len(data))}
	s.mu.Unlock()
	return nil
}

// Get downloads an object's bytes.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.StoreGet, fmt.Errorf("get %s: %w", key, err))
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, ferrors.Wrap(ferrors.StoreGet, fmt.Errorf("read body %s: %w", key, err))
	}
	return buf.Bytes(), nil
}

// Delete removes an object and drops it from the session index.
func (s *Store) Delete(ctx context.Context, key string, capturedAtMs int64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return ferrors.Wrap(ferrors.StoreDelete, fmt.Errorf("delete %s: %w", key, err))
	}
	s.mu.Lock()
	delete(s.index, capturedAtMs)
	s.mu.Unlock()
	return nil
}

// ListedObject is one row of a list_objects_v2 page.
type ListedObject struct {
	Key   string
	Bytes int64
}

// listAll enumerates the entire bucket (or a prefix within it) via
// paginated list_objects_v2, invoking fn for every page.
func (s *Store) listAll(ctx context.Context, prefix string, fn func([]ListedObject) error) error {
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(1000),
			ContinuationToken: token,
		})
		if err != nil {
			return ferrors.Wrap(ferrors.StoreList, fmt.Errorf("list objects: %w", err))
		}

		page := make([]ListedObject, 0, len(out.Contents))
		for _, obj := range out.Contents {
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			page = append(page, ListedObject{Key: aws.ToString(obj.Key), Bytes: size})
		}
		if err := fn(page); err != nil {
			return err
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// LoadBaseline enumerates the bucket on startup and seeds the session
// index from whatever is already there, parsing captured_at_ms out of
// each key's leading timestamp component. Objects whose key does not
// parse, or whose parsed start is already tracked, are included in the
// returned baselineBytes and baselineCount but are not added to the
// session index, so TotalBytes and OldestN do not see them.
func (s *Store) LoadBaseline(ctx context.Context) (baselineBytes int64, baselineCount int, err error) {
	err = s.listAll(ctx, "", func(page []ListedObject) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, obj := range page {
			baselineBytes += obj.Bytes
			baselineCount++
			if ts, ok := parseStartMs(obj.Key); ok {
				if _, exists := s.index[ts]; !exists {
					s.index[ts] = Entry{Key: obj.Key, Bytes: obj.Bytes}
				}
			}
		}
		return nil
	})
	return baselineBytes, baselineCount, err
}

// dotlessTimestampBase is internal/frame.fmtTimestamp's layout with its
// hand-appended millisecond digits stripped off: "20060102T150405" is
// 15 characters, followed by 3 millisecond digits and a trailing "Z".
const dotlessTimestampBase = "20060102T150405"
const dotlessTimestampLen = len(dotlessTimestampBase) + 3 + 1

// parseTimestamp parses internal/frame.fmtTimestamp's {YYYYMMDDTHHMMSSsssZ}
// format by hand: time.Parse's reference layout has no way to express
// milliseconds without a preceding separator, so the trailing digits are
// split off and added back manually.
func parseTimestamp(s string) (int64, bool) {
	if len(s) != dotlessTimestampLen || s[len(s)-1] != 'Z' {
		return 0, false
	}
	base, msPart := s[:len(dotlessTimestampBase)], s[len(dotlessTimestampBase):len(s)-1]

	t, err := time.Parse(dotlessTimestampBase, base)
	if err != nil {
		return 0, false
	}
	ms, err := strconv.Atoi(msPart)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli() + int64(ms), true
}

// parseStartMs extracts the leading start timestamp component from a
// key of the form ".../{start}_{end}.ext", where {start} is formatted
// per internal/frame.fmtTimestamp, and also accepts a raw integer
// millisecond prefix for keys that don't follow that layout (e.g. clip
// manifest keys, or synthetic "idle:{start}/{end}" markers).
func parseStartMs(key string) (int64, bool) {
	base := key
	if strings.HasPrefix(base, "idle:") {
		base = strings.TrimPrefix(base, "idle:")
	} else if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}

	sep := "_"
	if strings.Contains(base, "/") {
		sep = "/"
	}
	parts := strings.SplitN(base, sep, 2)
	if len(parts) == 0 || parts[0] == "" {
		return 0, false
	}

	if ms, ok := parseTimestamp(parts[0]); ok {
		return ms, true
	}
	if v, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
		return v, true
	}
	return 0, false
}

// OldestN returns the n oldest tracked entries by captured_at_ms, the
// batch the eviction loop walks in temporal order.
func (s *Store) OldestN(n int) []struct {
	CapturedAtMs int64
	Entry        Entry
} {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]int64, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > n {
		keys = keys[:n]
	}

	out := make([]struct {
		CapturedAtMs int64
		Entry        Entry
	}, 0, len(keys))
	for _, k := range keys {
		out = append(out, struct {
			CapturedAtMs int64
			Entry        Entry
		}{CapturedAtMs: k, Entry: s.index[k]})
	}
	return out
}

// TotalBytes sums the bytes tracked in the session index (baseline
// objects LoadBaseline indexed + PUTs this session, minus anything
// already evicted).
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, e := range s.index {
		total += e.Bytes
	}
	return total
}

// Count returns the number of entries tracked in the session index.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Remove drops an entry from the session index without issuing a
// DELETE, for callers (eviction) that issue the DELETE separately.
func (s *Store) Remove(capturedAtMs int64) {
	s.mu.Lock()
	delete(s.index, capturedAtMs)
	s.mu.Unlock()
}
