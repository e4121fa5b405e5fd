package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vision2viral/internal/apperror"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
)

// AssetSigner issues short-lived read URLs for uploaded assets.
type AssetSigner interface {
	SignedURL(ctx context.Context, path string) (string, error)
}

// S3Options configures the S3-compatible upload bucket.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	TTL       time.Duration
}

type s3AssetSigner struct {
	presign func(ctx context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error)
	bucket  string
	ttl     time.Duration
}

// NewS3AssetSigner builds a presigning client for the upload bucket.
func NewS3AssetSigner(ctx context.Context, opts S3Options) (AssetSigner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		return nil, fmt.Errorf("load S3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})
	pc := s3.NewPresignClient(client)
	return &s3AssetSigner{
		presign: func(ctx context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error) {
			req, err := pc.PresignGetObject(ctx, in, s3.WithPresignExpires(ttl))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
		bucket: opts.Bucket,
		ttl:    opts.TTL,
	}, nil
}

func (s *s3AssetSigner) SignedURL(ctx context.Context, path string) (string, error) {
	key := strings.TrimPrefix(path, "/")
	if key == "" {
		return "", apperror.Invalid("input_image_path", "must not be empty")
	}
	url, err := s.presign(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s.ttl)
	if err != nil {
		return "", &apperror.UpstreamError{Service: "asset storage", Err: err}
	}
	return url, nil
}

// removeDisableGzip drops a finalize step that breaks signatures on some
// S3-compatible services (supabase/storage#577).
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
