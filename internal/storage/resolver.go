package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrPartNotFound is returned when a requested temp part does not exist.
var ErrPartNotFound = errors.New("storage: part not found")

// Request identifies the download whose temp data is being resolved.
type Request struct {
	ID       int
	URL      string
	File     string
	Parallel bool
}

// Resolver locates and manages the temporary parts of in-flight downloads.
type Resolver interface {
	// DirectoryForRequest returns the directory holding temp parts for req.
	DirectoryForRequest(req Request) string

	NewPartWriter(ctx context.Context, dir string, id, index int) (io.WriteCloser, error)
	NewPartReader(ctx context.Context, dir string, id, index int) (io.ReadCloser, error)
	PartSize(ctx context.Context, dir string, id, index int) (int64, error)

	// DeleteAllForID removes every temp object for id under dir.
	DeleteAllForID(ctx context.Context, dir string, id int) error

	Close() error
}

// BlobResolver stores temp parts in a gocloud bucket:
//
//	{prefix}/parallel/{id}.{index}.part
//	{prefix}/sequential/{id}.{index}.part
type BlobResolver struct {
	bucket *blob.Bucket
	prefix string
	owned  bool
}

// Open opens the bucket at url and returns a resolver that closes it on Close.
func Open(ctx context.Context, url, prefix string) (*BlobResolver, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket: %w", err)
	}
	r := NewBlobResolver(bucket, prefix)
	r.owned = true
	return r, nil
}

// NewBlobResolver returns a resolver over an existing bucket. The caller keeps
// ownership of bucket.
func NewBlobResolver(bucket *blob.Bucket, prefix string) *BlobResolver {
	return &BlobResolver{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// DirectoryForRequest implements Resolver.
func (r *BlobResolver) DirectoryForRequest(req Request) string {
	kind := "sequential"
	if req.Parallel {
		kind = "parallel"
	}
	if r.prefix == "" {
		return kind
	}
	return path.Join(r.prefix, kind)
}

func partKey(dir string, id, index int) string {
	return fmt.Sprintf("%s/%d.%d.part", dir, id, index)
}

// NewPartWriter implements Resolver. The part is committed on Close.
func (r *BlobResolver) NewPartWriter(ctx context.Context, dir string, id, index int) (io.WriteCloser, error) {
	w, err := r.bucket.NewWriter(ctx, partKey(dir, id, index), nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create part writer: %w", err)
	}
	return w, nil
}

// NewPartReader implements Resolver.
func (r *BlobResolver) NewPartReader(ctx context.Context, dir string, id, index int) (io.ReadCloser, error) {
	rd, err := r.bucket.NewReader(ctx, partKey(dir, id, index), nil)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrPartNotFound
		}
		return nil, fmt.Errorf("storage: open part: %w", err)
	}
	return rd, nil
}

// PartSize implements Resolver.
func (r *BlobResolver) PartSize(ctx context.Context, dir string, id, index int) (int64, error) {
	attrs, err := r.bucket.Attributes(ctx, partKey(dir, id, index))
	if err != nil {
		if isNotExist(err) {
			return 0, ErrPartNotFound
		}
		return 0, fmt.Errorf("storage: part attributes: %w", err)
	}
	return attrs.Size, nil
}

// DeleteAllForID implements Resolver.
func (r *BlobResolver) DeleteAllForID(ctx context.Context, dir string, id int) error {
	prefix := dir + "/" + strconv.Itoa(id) + "."
	it := r.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("storage: list parts: %w", err)
		}
		if err := r.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			return fmt.Errorf("storage: delete part %s: %w", obj.Key, err)
		}
	}
}

// Close releases the bucket if the resolver opened it.
func (r *BlobResolver) Close() error {
	if !r.owned {
		return nil
	}
	return r.bucket.Close()
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
