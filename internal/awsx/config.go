// Package awsx loads the shared AWS SDK configuration.
package awsx

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

// LoadConfig resolves region and credentials. Static keys from the environment
// take precedence over the default provider chain.
func LoadConfig(ctx context.Context, cfg common.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// S3Options applies a custom endpoint (MinIO, LocalStack) and path-style
// addressing.
func S3Options(storage common.StorageConfig) func(*s3.Options) {
	return func(o *s3.Options) {
		if storage.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(storage.S3Endpoint)
		}
		o.UsePathStyle = storage.S3PathStyle
	}
}
