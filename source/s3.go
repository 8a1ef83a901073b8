package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
)

const (
	DefaultS3Region = "us-east-2"
	DefaultS3Prefix = "output/"
)

// s3API is the part of the S3 client the source uses.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Source reads filing exports stored as JSON objects in a bucket.
type S3Source struct {
	client s3API
	config S3Config
	log    *slog.Logger
}

// NewS3Source creates a source using the default AWS credential chain.
func NewS3Source(ctx context.Context, config S3Config, logger *slog.Logger) (*S3Source, error) {
	if config.Region == "" {
		config.Region = DefaultS3Region
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, helper.NewError("load aws config", err)
	}
	return newS3Source(s3.NewFromConfig(awsCfg), config, logger)
}

func newS3Source(client s3API, config S3Config, logger *slog.Logger) (*S3Source, error) {
	if config.Bucket == "" {
		return nil, helper.NewError("create s3 source", fmt.Errorf("%w: bucket is required", model.ErrInvalidConfiguration))
	}
	if config.Prefix == "" {
		config.Prefix = DefaultS3Prefix
	}
	if logger == nil {
		logger = helper.DiscardLogger()
	}
	return &S3Source{client: client, config: config, log: logger}, nil
}

// Fetch lists every .json object below the prefix and parses it as a filing.
// Objects that cannot be read or parsed are logged and skipped.
func (s *S3Source) Fetch(ctx context.Context) ([]*model.Document, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.config.Prefix),
	})

	var docs []*model.Document
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return docs, helper.NewError(fmt.Sprintf("list s3://%s/%s", s.config.Bucket, s.config.Prefix), err)
		}

		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}

			doc, err := s.object(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return docs, helper.NewError("fetch s3 objects", ctx.Err())
				}
				s.log.Warn("Skipping object", slog.String("key", key), slog.Any("error", err))
				continue
			}
			docs = append(docs, doc)
			s.log.Debug("Fetched object", slog.String("key", key), slog.String("document_id", doc.ID))
		}
	}

	s.log.Info("Fetched filings from s3", slog.String("bucket", s.config.Bucket), slog.Int("documents", len(docs)))
	return docs, nil
}

func (s *S3Source) object(ctx context.Context, key string) (*model.Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return ParseFilingJSON(key, data)
}
