package storage

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"stepschool_go/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	region   string
	now      func() time.Time
}

// NewStorageService creates a new storage service
func NewStorageService() (*StorageService, error) {
	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AppConfig.AWSRegion),
		Credentials: credentials.NewStaticCredentials(
			config.AppConfig.AWSAccessKeyID,
			config.AppConfig.AWSSecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	return NewStorageServiceWithClient(s3.New(sess), config.AppConfig.S3BucketName, config.AppConfig.AWSRegion), nil
}

// NewStorageServiceWithClient wires an existing S3 client.
func NewStorageServiceWithClient(client s3iface.S3API, bucket, region string) *StorageService {
	return &StorageService{
		s3Client: client,
		bucket:   bucket,
		region:   region,
		now:      time.Now,
	}
}

// UploadBytes stores data under folder/YYYY/MM/<name>-<random>.<ext> and returns its public URL.
func (s *StorageService) UploadBytes(folder, filename, contentType string, data []byte) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("S3 bucket not configured")
	}

	now := s.now().UTC()
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	base := strings.TrimSuffix(filename, path.Ext(filename))
	key := fmt.Sprintf("%s/%d/%02d/%s-%s",
		strings.Trim(folder, "/"),
		now.Year(),
		now.Month(),
		safeName(base),
		uuid.New().String()[:8],
	)
	if ext != "" {
		key += "." + strings.ToLower(ext)
	}
	if contentType == "" {
		contentType = getContentType(ext)
	}

	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %v", err)
	}

	return s.URLFor(key), nil
}

// URLFor returns the public URL of a key in the bucket.
func (s *StorageService) URLFor(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// DeleteFile deletes a file from S3
func (s *StorageService) DeleteFile(fileURL string) error {
	key := extractKeyFromURL(fileURL)
	if key == "" {
		return fmt.Errorf("invalid file URL")
	}

	_, err := s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	return err
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
	if name == "" {
		return "file"
	}
	return name
}

// getContentType returns the MIME type for the file extension
func getContentType(extension string) string {
	switch strings.ToLower(extension) {
	case "pdf":
		return "application/pdf"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// extractKeyFromURL extracts the S3 key from a full URL
func extractKeyFromURL(url string) string {
	// Example URL: https://bucket.s3.region.amazonaws.com/path/to/file.ext
	parts := strings.Split(url, ".amazonaws.com/")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
