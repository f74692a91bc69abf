package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"artcat/pkg/storage"
	"artcat/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	client  *s3.Client
	presign *s3.PresignClient
	locator storage.Locator
	retry   storage.RetryPolicy
	logger  *zap.Logger

	// Progress 可选；为空时进度写入 Debug 日志
	Progress storage.ProgressFunc
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	URIPrefix       string
	Retry           storage.RetryPolicy
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func NewAdapter(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时，注入特定于 S3 的配置
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 如果指定了 Endpoint (比如 MinIO 的 localhost:9000)，则覆盖默认值
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO 必须强制使用 Path Style
			o.UsePathStyle = true
		}
	})

	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = storage.DefaultRetryPolicy()
	}

	return &Adapter{
		client:  client,
		presign: s3.NewPresignClient(client),
		locator: storage.NewLocator(cfg.URIPrefix),
		retry:   retry,
		logger:  logger,
	}, nil
}

// Has 检查对象是否存在
func (s *Adapter) Has(ctx context.Context, uri types.ArtifactURI) (bool, error) {
	bucket, key, err := s.locator.Split(uri)
	if err != nil {
		return false, &storage.TransportError{URI: uri, Err: err}
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}
	return false, &storage.TransportError{URI: uri, Err: err}
}

// Put 上传归档，内部有界重试
func (s *Adapter) Put(ctx context.Context, localPath string, uri types.ArtifactURI) error {
	bucket, key, err := s.locator.Split(uri)
	if err != nil {
		return &storage.UploadError{URI: uri, Attempts: 0, Err: err}
	}

	report := s.Progress
	if report == nil {
		report = storage.LogProgress(s.logger, key)
	}

	return storage.Retry(ctx, s.retry, uri, s.logger, func(attempt int) error {
		// 每次重试都重新打开文件，保证从头上传
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			return err
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          storage.NewProgressReader(f, stat.Size(), report, s.logger),
			ContentLength: aws.Int64(stat.Size()),
			ContentType:   aws.String(storage.ContentType),
			// 私有对象，只能通过签名 URL 访问
			ACL: s3types.ObjectCannedACLPrivate,
		})
		if err != nil {
			return fmt.Errorf("s3 put failed: %w", err)
		}
		return nil
	})
}

// SignURL 生成限时的 GET URL
func (s *Adapter) SignURL(ctx context.Context, uri types.ArtifactURI, ttl time.Duration) (string, error) {
	bucket, key, err := s.locator.Split(uri)
	if err != nil {
		return "", &storage.SigningError{URI: uri, Err: err}
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &storage.SigningError{URI: uri, Err: err}
	}
	return req.URL, nil
}

// EnsureBucket 确保 bucket 存在 (仅用于 MinIO 等本地环境)
func (s *Adapter) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	return strings.Contains(err.Error(), "StatusCode: 404")
}
