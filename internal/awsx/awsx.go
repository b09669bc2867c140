// Package awsx builds AWS SDK clients for S3 and SQS from service settings.
// It works against AWS itself and against S3/SQS-compatible endpoints such as
// MinIO or LocalStack.
package awsx

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Settings selects the region, endpoint and credentials.
// Empty credentials fall back to the default AWS credential chain.
type Settings struct {
	Region          string
	BaseEndpoint    string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newSQSClientFromConfig = func(cfg aws.Config, optFns ...func(*sqs.Options)) *sqs.Client {
		return sqs.NewFromConfig(cfg, optFns...)
	}
)

// LoadConfig resolves an aws.Config for s.
func LoadConfig(ctx context.Context, s Settings) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.Region)}
	if s.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewS3Client returns an S3 client honouring the custom endpoint and
// path-style addressing.
func NewS3Client(ctx context.Context, s Settings) (*s3.Client, error) {
	cfg, err := LoadConfig(ctx, s)
	if err != nil {
		return nil, err
	}
	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.BaseEndpoint)
		}
		o.UsePathStyle = s.UsePathStyle
	}), nil
}

// NewSQSClient returns an SQS client honouring the custom endpoint.
func NewSQSClient(ctx context.Context, s Settings) (*sqs.Client, error) {
	cfg, err := LoadConfig(ctx, s)
	if err != nil {
		return nil, err
	}
	return newSQSClientFromConfig(cfg, func(o *sqs.Options) {
		if s.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.BaseEndpoint)
		}
	}), nil
}
