package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	sc "github.com/dmitrijs2005/chatrelay/internal/server/config"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// AttachmentService hands out presigned object-storage URLs for message
// attachments. The relay never sees attachment bytes.
type AttachmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config

	mu     sync.Mutex
	client *s3.PresignClient
}

func NewAttachmentService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config) *AttachmentService {
	return &AttachmentService{
		db:          db,
		repomanager: repomanager,
		config:      config,
	}
}

// NewStorageKey returns a fresh object key under attachments/yyyy/mm/dd/.
func NewStorageKey(now time.Time) string {
	return fmt.Sprintf("attachments/%04d/%02d/%02d/%s", now.Year(), now.Month(), now.Day(), uuid.New())
}

func (s *AttachmentService) presignClient(ctx context.Context) (*s3.PresignClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	s.client = newS3PresignClient(client)
	return s.client, nil
}

// RequestUpload allocates a storage key and a presigned PUT for it. The sender
// puts the key into a message's file_info.storage_key.
func (s *AttachmentService) RequestUpload(ctx context.Context) (key, url string, err error) {
	pc, err := s.presignClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	bucket := s.config.S3Bucket
	key = NewStorageKey(time.Now().UTC())

	req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.AttachmentURLValidity))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	return key, req.URL, nil
}

// DownloadURL presigns a GET for key if a message userID sent or received
// references it; otherwise common.ErrorNotFound.
func (s *AttachmentService) DownloadURL(ctx context.Context, userID, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", invalid("storage_key", "is required")
	}

	ok, err := s.repomanager.Messages(s.db).HasAttachment(ctx, userID, key)
	if err != nil {
		return "", storeErr(err)
	}
	if !ok {
		return "", common.ErrorNotFound
	}

	pc, err := s.presignClient(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.AttachmentURLValidity))
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	return req.URL, nil
}
