package storage

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/storage/aws_client"
)

// ObjectStorageService keeps attachment blobs in one bucket.
type ObjectStorageService struct {
	client        aws_client.ObjectClient
	bucketName    string
	publicBaseURL string
}

func NewStorageService(client aws_client.ObjectClient, bucketName, publicBaseURL string) *ObjectStorageService {
	return &ObjectStorageService{
		client:        client,
		bucketName:    bucketName,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// NewR2StorageService returns nil when no bucket credentials are configured; attachments
// then keep their metadata only. Without an R2 account id it falls back to AWS S3.
func NewR2StorageService(cfg *config.R2StorageConfig) (interfaces.StorageService, error) {
	if cfg == nil || !cfg.Enabled() {
		return nil, nil
	}

	var client aws_client.ObjectClient
	var err error
	if cfg.AccountID != "" {
		client, err = aws_client.NewR2Client(aws_client.R2Config{
			AccountID:       cfg.AccountID,
			AccessKeyID:     cfg.AccessKeyID,
			AccessKeySecret: cfg.AccessKeySecret,
		})
	} else {
		client, err = aws_client.NewS3Client(cfg.S3Region, cfg.AccessKeyID, cfg.AccessKeySecret)
	}
	if err != nil {
		return nil, err
	}
	return NewStorageService(client, cfg.EmailAttachmentBucket, cfg.PublicBaseURL), nil
}

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("size", len(data))

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err := s.client.Put(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to upload %s", key)
	}
	return nil
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	content, err := s.client.Get(ctx, s.bucketName, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to download %s", key)
	}
	return content, nil
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Remove(ctx, s.bucketName, key)
}

// GetPublicURL is empty unless a public base url is configured for the bucket.
func (s *ObjectStorageService) GetPublicURL(key string) string {
	if s.publicBaseURL == "" {
		return ""
	}
	return s.publicBaseURL + "/" + key
}
