package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// S3Store uploads filing PDFs to S3-compatible object storage. A custom
// endpoint with path-style addressing covers MinIO deployments.
type S3Store struct {
	client     *s3.Client
	bucket     string
	publicBase string
	logger     arbor.ILogger
}

// NewS3Store builds the S3 client from config. Static credentials are used
// when provided; otherwise the default AWS chain applies.
func NewS3Store(ctx context.Context, config *common.BlobConfig, logger arbor.ILogger) (interfaces.BlobStore, error) {
	if config.Bucket == "" {
		return nil, common.E(common.KindValidation, "blob.bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" {
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "failed to configure blob storage")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.UsePathStyle
	})

	logger.Info().
		Str("bucket", config.Bucket).
		Str("region", config.Region).
		Msg("Blob storage configured")

	return &S3Store{
		client:     client,
		bucket:     config.Bucket,
		publicBase: publicBase(config),
		logger:     logger,
	}, nil
}

func (s *S3Store) UploadPDF(ctx context.Context, companySlug, fiscalYear, sourceURL string, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", common.E(common.KindValidation, "refusing to upload an empty PDF")
	}

	key := ObjectKey(companySlug, fiscalYear, sourceURL)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", common.WrapErr(common.KindUnavailable, err, "failed to upload PDF to blob storage")
	}

	url := s.publicBase + "/" + key
	s.logger.Debug().
		Str("key", key).
		Int("bytes", len(raw)).
		Msg("PDF uploaded")
	return url, nil
}

// HealthCheck verifies the bucket is reachable with the configured
// credentials.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return common.WrapErr(common.KindUnavailable, err, "blob storage is not reachable")
	}
	return nil
}

// ObjectKey builds the deterministic object key for a filing:
// filings/<company-slug>/<fy>_<hash8>.pdf, hash8 being the report key of the
// source URL. Re-uploading the same report overwrites the same object.
func ObjectKey(companySlug, fiscalYear, sourceURL string) string {
	slug := common.Slugify(companySlug)
	if slug == "" {
		slug = "unknown"
	}
	fy := strings.ToLower(strings.TrimSpace(fiscalYear))
	if fy == "" {
		fy = "unknown"
	}
	return fmt.Sprintf("filings/%s/%s_%s.pdf", slug, fy, models.ReportKey(sourceURL))
}

// publicBase derives the base URL stored object links are built from.
func publicBase(config *common.BlobConfig) string {
	if config.PublicBase != "" {
		return strings.TrimRight(config.PublicBase, "/")
	}
	if config.Endpoint != "" {
		return strings.TrimRight(config.Endpoint, "/") + "/" + config.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", config.Bucket, config.Region)
}
