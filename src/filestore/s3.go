package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

var _ Store = &S3Store{}

func NewS3Store(ctx context.Context, cfg config.FilesConfig, keyPrefix string) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, ""),
		))
	}
	if cfg.S3Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolver(aws.EndpointResolverFunc(func(service, region string) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL: cfg.S3Endpoint,
			}, nil
		})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.New(err, "failed to load S3 config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return &S3Store{
		client:    client,
		bucket:    cfg.S3Bucket,
		keyPrefix: keyPrefix,
	}, nil
}

func ObjectKey(prefix string, id uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/files/%s/%s", prefix, id.String(), SanitizeFilename(filename))
}

func (s *S3Store) Put(ctx context.Context, file *models.File, data []byte) (string, error) {
	key := ObjectKey(s.keyPrefix, uuid.New(), file.Filename)

	upload := func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
			Body:   bytes.NewReader(data),
		})
		return err
	}

	err := upload()
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchBucket" {
			_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
				Bucket: &s.bucket,
			})
			if err != nil {
				return "", oops.New(err, "failed to create files bucket")
			}

			err = upload()
			if err != nil {
				return "", oops.New(err, "failed to upload file")
			}
		} else {
			return "", oops.New(err, "failed to upload file")
		}
	}

	return key, nil
}

func (s *S3Store) Get(ctx context.Context, file *models.File) ([]byte, error) {
	if file.StorageKey == "" {
		return nil, oops.New(nil, "file %d has no storage key", file.ID)
	}

	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &file.StorageKey,
	})
	if err != nil {
		return nil, oops.New(err, "failed to fetch file %d", file.ID)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, oops.New(err, "failed to read file %d", file.ID)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, file *models.File) error {
	if file.StorageKey == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &file.StorageKey,
	})
	if err != nil {
		return oops.New(err, "failed to delete file %d", file.ID)
	}
	return nil
}
