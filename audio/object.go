package audio

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// ObjectStore is where Object reads from.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Client creates a MinIO client for the store.
func (o ObjectStore) Client() (*minio.Client, error) {
	client, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object store client")
	}
	return client, nil
}

// Object streams an Ogg/Opus object out of a bucket. The object is checked
// for existence up front so that a missing key fails here instead of on the
// first read. Cleanup closes the object.
func Object(ctx context.Context, client *minio.Client, bucket, key string) (Source, error) {
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get object %s/%s", bucket, key)
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()

		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Errorf("object %s/%s does not exist", bucket, key)
		}
		return nil, errors.Wrapf(err, "failed to stat object %s/%s", bucket, key)
	}

	return Reader(obj), nil
}
