// Package publish distributes published schema documents to object storage,
// where form renderers fetch them without going through the database.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotPublished = errors.New("survey document not published")

// Bucket stores one JSON document per survey id.
type Bucket interface {
	Put(ctx context.Context, surveyID string, document []byte) error
	Get(ctx context.Context, surveyID string) (Object, error)
	Remove(ctx context.Context, surveyID string) error
}

// Object is a published document and the time the bucket last wrote it.
type Object struct {
	Data      []byte
	UpdatedAt time.Time
}

// CurrentAt reports whether the object was written no earlier than a database
// update at updatedAt. Object stores keep whole seconds.
func (o Object) CurrentAt(updatedAt time.Time) bool {
	return !o.UpdatedAt.Before(updatedAt.Truncate(time.Second))
}

func ObjectKey(surveyID string) string {
	return "surveys/" + strings.TrimSpace(surveyID) + ".json"
}

type MinioBucket struct {
	client *minio.Client
	bucket string
}

// NewMinioBucket connects to an S3-compatible endpoint and creates the bucket
// if it does not exist yet.
func NewMinioBucket(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioBucket, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioBucket{client: client, bucket: bucket}, nil
}

func (b *MinioBucket) Put(ctx context.Context, surveyID string, document []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, ObjectKey(surveyID), bytes.NewReader(document), int64(len(document)), minio.PutObjectOptions{
		ContentType:  "application/json",
		CacheControl: "no-cache",
	})
	if err != nil {
		return fmt.Errorf("put survey document %s: %w", surveyID, err)
	}
	return nil
}

func (b *MinioBucket) Get(ctx context.Context, surveyID string) (Object, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, ObjectKey(surveyID), minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("get survey document %s: %w", surveyID, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, ErrNotPublished
		}
		return Object{}, fmt.Errorf("stat survey document %s: %w", surveyID, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, fmt.Errorf("read survey document %s: %w", surveyID, err)
	}
	return Object{Data: data, UpdatedAt: info.LastModified}, nil
}

func (b *MinioBucket) Remove(ctx context.Context, surveyID string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, ObjectKey(surveyID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove survey document %s: %w", surveyID, err)
	}
	return nil
}
