package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"TalkingAvatar-server/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArtifactStore 生成产物（音频/视频）的持久化存储
type ArtifactStore interface {
	// Save 上传数据流，返回可访问的 URL
	Save(ctx context.Context, objectName string, reader io.Reader, size int64) (string, error)
	// Mirror 下载 provider 返回的临时地址并转存
	Mirror(ctx context.Context, sourceURL, objectName string) (string, error)
}

// bucketClient minio.Client 中 bucket 检查用到的部分
type bucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// MinIOStore 基于 MinIO 的 ArtifactStore，返回预签名 URL
type MinIOStore struct {
	client  *minio.Client
	buckets bucketClient
	bucket  string
	expiry  time.Duration
	http    *http.Client
	log     *zap.Logger

	// 只缓存成功，失败后下次调用重试
	bucketMu    sync.Mutex
	bucketReady bool
}

// NewMinIOStore 初始化连接，在启动时调用
func NewMinIOStore(cfg config.MinIOConfig, log *zap.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	log.Info("MinIO 客户端已创建", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	return &MinIOStore{
		client:  client,
		buckets: client,
		bucket:  cfg.Bucket,
		expiry:  time.Duration(cfg.PresignHours) * time.Hour,
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     log,
	}, nil
}

// ensureBucket 确保 Bucket 存在，成功后不再检查
func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}

	exists, err := s.buckets.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := s.buckets.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		s.log.Info("Bucket 已创建", zap.String("bucket", s.bucket))
	}
	s.bucketReady = true
	return nil
}

// contentTypeFor 根据文件扩展名确定 ContentType
func contentTypeFor(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	}
	return "application/octet-stream"
}

func (s *MinIOStore) Save(ctx context.Context, objectName string, reader io.Reader, size int64) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	s.log.Info("文件已上传", zap.String("object", objectName))
	return presignedURL.String(), nil
}

func (s *MinIOStore) Mirror(ctx context.Context, sourceURL, objectName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return s.Save(ctx, objectName, resp.Body, resp.ContentLength)
}

// artifactObjectName 生成云端路径，例如 projects/{id}/video.mp4。
// 扩展名优先取源地址自带的。
func artifactObjectName(projectID, base, sourceURL, fallbackExt string) string {
	ext := fallbackExt
	if u, err := url.Parse(sourceURL); err == nil {
		if e := filepath.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return fmt.Sprintf("projects/%s/%s%s", projectID, base, ext)
}
