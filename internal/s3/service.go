package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
)

const (
	defaultPresignExpiryDuration = 30 * time.Minute
)

// Service stores rendered invoice documents
type Service interface {
	UploadDocument(ctx context.Context, document *Document) error
	GetPresignedUrl(ctx context.Context, id string, docType DocumentType) (string, error)
}

// objectAPI is the subset of the s3 client used here
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3ServiceImpl struct {
	client    objectAPI
	presigner *s3.PresignClient
	config    *config.S3Config
}

// NewService returns nil when s3 is disabled
func NewService(cfg *config.Configuration) (Service, error) {
	if !cfg.S3.Enabled {
		return nil, nil
	}

	awsCfg, err := config.LoadAwsConfig(context.Background(), cfg.S3)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load aws config").
			Mark(ierr.ErrDependency)
	}

	client := s3.NewFromConfig(awsCfg)
	return &s3ServiceImpl{
		config:    &cfg.S3,
		client:    client,
		presigner: s3.NewPresignClient(client),
	}, nil
}

func (s *s3ServiceImpl) getObjectKey(id string, docType DocumentType) (string, error) {
	switch docType {
	case DocumentTypeInvoice:
		if s.config.InvoiceBucketConfig.KeyPrefix != "" {
			return fmt.Sprintf("%s/%s.pdf", s.config.InvoiceBucketConfig.KeyPrefix, id), nil
		}
		return fmt.Sprintf("%s.pdf", id), nil
	default:
		return "", ierr.NewErrorf("invalid doc type: %s", docType).
			WithHintf("Valid doc types are: %v", []DocumentType{DocumentTypeInvoice}).
			Mark(ierr.ErrSystem)
	}
}

func (s *s3ServiceImpl) getBucket(docType DocumentType) string {
	switch docType {
	case DocumentTypeInvoice:
		return s.config.InvoiceBucketConfig.Bucket
	default:
		return ""
	}
}

func getContentType(docKind DocumentKind) string {
	switch docKind {
	case DocumentKindPdf:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// GetPresignedUrl returns a time-limited download link
func (s *s3ServiceImpl) GetPresignedUrl(ctx context.Context, id string, docType DocumentType) (string, error) {
	key, err := s.getObjectKey(id, docType)
	if err != nil {
		return "", err
	}

	duration, err := time.ParseDuration(s.config.InvoiceBucketConfig.PresignExpiryDuration)
	if err != nil {
		duration = defaultPresignExpiryDuration
	}

	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.getBucket(docType)),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(duration))
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to get presigned url").
			WithMessagef("bucket:%s, key:%s", s.getBucket(docType), key).
			Mark(ierr.ErrDependency)
	}

	return result.URL, nil
}

// UploadDocument stores the document under its type's bucket and prefix
func (s *s3ServiceImpl) UploadDocument(ctx context.Context, document *Document) error {
	key, err := s.getObjectKey(document.ID, document.Type)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.getBucket(document.Type)),
		Key:         aws.String(key),
		Body:        bytes.NewReader(document.Data),
		ContentType: aws.String(getContentType(document.Kind)),
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to upload document").
			WithMessagef("bucket:%s, key:%s", s.getBucket(document.Type), key).
			Mark(ierr.ErrDependency)
	}

	return nil
}
