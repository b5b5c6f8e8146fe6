package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store activates an S3 (or S3-compatible) bucket as a store, grounded
// on scttfrdmn-objectfs/internal/storage/s3/client.go's client-construction
// pattern: config.LoadDefaultConfig plus an optional custom endpoint and
// path-style addressing for non-AWS S3-compatible backends.
type S3Store struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool

	client *s3.Client
}

// NewS3Store builds an S3Store. The underlying client is constructed
// lazily on first Activate so a controller that never uses S3 never pays
// for credential resolution.
func NewS3Store(region, endpoint string, forcePathStyle bool) *S3Store {
	return &S3Store{Region: region, Endpoint: endpoint, ForcePathStyle: forcePathStyle}
}

func (s *S3Store) Name() string { return "s3" }

// Activate resolves AWS config, builds (or reuses) the S3 client, and
// confirms the bucket named by desc.Endpoint is reachable with a HeadBucket
// call.
func (s *S3Store) Activate(ctx context.Context, desc Descriptor) (Info, error) {
	if desc.Endpoint == "" {
		return Info{}, fmt.Errorf("s3 store requires a bucket name as endpoint")
	}

	if s.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.Region))
		if err != nil {
			return Info{}, fmt.Errorf("load AWS config: %w", err)
		}
		s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if s.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.Endpoint)
			}
			o.UsePathStyle = s.ForcePathStyle
		})
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(desc.Endpoint)})
	if err != nil {
		return Info{}, fmt.Errorf("head bucket %s: %w", desc.Endpoint, err)
	}

	return Info{ID: desc.ID(), Provider: s.Name(), Location: "s3://" + desc.Endpoint}, nil
}
