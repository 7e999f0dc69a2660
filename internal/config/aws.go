package config

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// LoadAwsConfig loads the default credential chain pinned to the configured region
func LoadAwsConfig(ctx context.Context, s3Cfg S3Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{}
	if s3Cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3Cfg.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	return cfg, nil
}
