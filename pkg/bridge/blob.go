package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/livefn/livefn/pkg/invocation"
	"github.com/livefn/livefn/pkg/livefn/version"
	"github.com/oklog/ulid/v2"
)

const (
	// SocketInlineLimit is the largest payload sent inline over the websocket.
	SocketInlineLimit = 32 * 1024
	// DatagramInlineLimit is the largest payload sent inline in a datagram.
	DatagramInlineLimit = 60 * 1024
)

// BlobStore holds payloads too large to send inline.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (BlobRef, error)
	Get(ctx context.Context, ref BlobRef) ([]byte, error)
}

// S3Store keeps payloads in the debug stack's bucket.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store loads the default AWS config for region and returns a store
// writing to bucket.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithAppID(version.UserAgent()),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading aws config: %w", err)
	}
	return NewS3StoreFromClient(s3.NewFromConfig(cfg), bucket), nil
}

func NewS3StoreFromClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   "payloads",
	}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) (BlobRef, error) {
	key = path.Join(s.prefix, key)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return BlobRef{}, fmt.Errorf("error uploading payload %s: %w", key, err)
	}
	return BlobRef{Bucket: s.bucket, Key: key}, nil
}

func (s *S3Store) Get(ctx context.Context, ref BlobRef) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching payload %s: %w", ref.Key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// offloader moves oversized payloads in and out of a BlobStore.
type offloader struct {
	store BlobStore
	limit int
}

// loadEvent resolves m.EventRef into m.Event.
func (o offloader) loadEvent(ctx context.Context, m *Message) error {
	if m.EventRef == nil {
		return nil
	}
	if o.store == nil {
		return fmt.Errorf("request %s references a stored event but no blob store is configured", m.CorrelationID)
	}
	byt, err := o.store.Get(ctx, *m.EventRef)
	if err != nil {
		return err
	}
	m.Event = byt
	m.EventRef = nil
	return nil
}

// result builds the result message for r, storing the payload when it is
// over the inline limit.
func (o offloader) result(ctx context.Context, correlationID string, r invocation.Result) Message {
	if len(r.Payload) <= o.limit {
		return NewResultMessage(correlationID, r)
	}

	if o.store == nil {
		return NewResultMessage(correlationID, invocation.Failuref(
			invocation.KindTransport,
			"response payload of %d bytes exceeds the %d byte inline limit",
			len(r.Payload), o.limit,
		))
	}

	ref, err := o.store.Put(ctx, ulid.Make().String()+".json", r.Payload)
	if err != nil {
		return NewResultMessage(correlationID, invocation.Failuref(invocation.KindTransport, "%s", err))
	}

	r.Payload = nil
	m := NewResultMessage(correlationID, r)
	m.PayloadRef = &ref
	return m
}
