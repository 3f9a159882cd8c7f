package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	FolderProducts  = "products"
	FolderProfiles  = "profiles"
	FolderExchanges = "exchanges"
	FolderOffers    = "exchange-offers"
)

const DefaultMaxImageBytes = 5 << 20

var (
	ErrUnsupportedImage = errors.New("图片格式不支持，仅支持 jpg/jpeg/png/webp")
	ErrImageTooLarge    = errors.New("图片过大")
	ErrEmptyImage       = errors.New("图片内容为空")
	ErrForeignURL       = errors.New("地址不属于当前存储桶")
)

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// File 待上传的图片
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ObjectStore 图片存储
type ObjectStore interface {
	Upload(ctx context.Context, folder string, f *File) (string, error)
	Delete(ctx context.Context, url string) error
}

// ValidateImage 校验扩展名和大小，返回小写扩展名
func ValidateImage(f *File, maxBytes int64) (string, error) {
	if f == nil || f.Body == nil {
		return "", ErrEmptyImage
	}
	ext := strings.ToLower(path.Ext(f.Name))
	if _, ok := allowedExt[ext]; !ok {
		return "", ErrUnsupportedImage
	}
	if maxBytes > 0 && f.Size > maxBytes {
		return "", ErrImageTooLarge
	}
	return ext, nil
}

// NewKey 生成对象键 {folder}/{uuid}.{ext}
func NewKey(folder, ext string) string {
	return fmt.Sprintf("%s/%s%s", folder, uuid.NewString(), ext)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store 基于 S3 的图片存储，对外只暴露公开访问地址
type S3Store struct {
	client   s3API
	bucket   string
	region   string
	maxBytes int64
}

func NewS3Store(client s3API, bucket, region string, maxBytes int64) *S3Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &S3Store{client: client, bucket: bucket, region: region, maxBytes: maxBytes}
}

// NewS3StoreFromConfig 用 AWS 默认配置链创建
func NewS3StoreFromConfig(awsCfg aws.Config, bucket string, maxBytes int64) *S3Store {
	return NewS3Store(s3.NewFromConfig(awsCfg), bucket, awsCfg.Region, maxBytes)
}

func (s *S3Store) baseURL() string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", s.bucket, s.region)
}

// URLForKey 对象键 -> 公开地址
func (s *S3Store) URLForKey(key string) string {
	return s.baseURL() + key
}

// KeyFromURL 公开地址 -> 对象键，与 URLForKey 互逆
func (s *S3Store) KeyFromURL(url string) (string, error) {
	key, ok := strings.CutPrefix(url, s.baseURL())
	if !ok || key == "" {
		return "", ErrForeignURL
	}
	return key, nil
}

func (s *S3Store) Upload(ctx context.Context, folder string, f *File) (string, error) {
	ext, err := ValidateImage(f, s.maxBytes)
	if err != nil {
		return "", err
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = allowedExt[ext]
	}

	key := NewKey(folder, ext)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f.Body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("上传 S3 失败: %w", err)
	}
	return s.URLForKey(key), nil
}

func (s *S3Store) Delete(ctx context.Context, url string) error {
	key, err := s.KeyFromURL(url)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("删除 S3 对象失败: %w", err)
	}
	return nil
}
