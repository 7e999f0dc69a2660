package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectAPI struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, f.err
}

func newTestService(api objectAPI, prefix string) *s3ServiceImpl {
	return &s3ServiceImpl{
		client: api,
		config: &config.S3Config{
			Enabled: true,
			InvoiceBucketConfig: config.S3BucketConfig{
				Bucket:    "invoices",
				KeyPrefix: prefix,
			},
		},
	}
}

func TestUploadDocument(t *testing.T) {
	api := &fakeObjectAPI{}
	svc := newTestService(api, "documents")

	err := svc.UploadDocument(context.Background(), NewPdfDocument("inv_01", []byte("%PDF"), DocumentTypeInvoice))
	require.NoError(t, err)

	assert.Equal(t, "invoices", *api.input.Bucket)
	assert.Equal(t, "documents/inv_01.pdf", *api.input.Key)
	assert.Equal(t, "application/pdf", *api.input.ContentType)
	assert.Equal(t, []byte("%PDF"), api.body)
}

func TestUploadDocument_Failure(t *testing.T) {
	svc := newTestService(&fakeObjectAPI{err: errors.New("access denied")}, "")

	err := svc.UploadDocument(context.Background(), NewPdfDocument("inv_01", []byte("%PDF"), DocumentTypeInvoice))
	require.Error(t, err)
	assert.True(t, ierr.IsDependency(err))
}

func TestGetObjectKey(t *testing.T) {
	svc := newTestService(nil, "")

	key, err := svc.getObjectKey("inv_01", DocumentTypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, "inv_01.pdf", key)

	_, err = svc.getObjectKey("inv_01", DocumentType("receipt"))
	assert.Error(t, err)
}

func TestNewService_Disabled(t *testing.T) {
	svc, err := NewService(config.GetDefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, svc)
}
