package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageMinio is an S3-compatible blob store, via the MinIO client
type StorageMinio struct {
	client *minio.Client
	bucket string
	log    logs.Log
}

type MinioConfig struct {
	Endpoint  string `json:"endpoint"`  // eg localhost:9000
	AccessKey string `json:"accessKey"` // MINIO_ACCESS_KEY
	SecretKey string `json:"secretKey"` // MINIO_SECRET_KEY
	Bucket    string `json:"bucket"`    // Created if it doesn't exist
	UseSSL    bool   `json:"useSSL"`
}

func NewStorageMinio(log logs.Log, cfg MinioConfig) (*StorageMinio, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("MinIO access key and secret key must be configured")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := cli.BucketExists(ctx, cfg.Bucket)
		if errExists != nil || !exists {
			return nil, fmt.Errorf("Failed to create or find bucket %v: %w", cfg.Bucket, err)
		}
	}
	log.Infof("Connected to MinIO %v, bucket %v", cfg.Endpoint, cfg.Bucket)

	return &StorageMinio{
		client: cli,
		bucket: cfg.Bucket,
		log:    log,
	}, nil
}

// minioWriter streams into PutObject through a pipe. Close waits for the upload to finish.
type minioWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *minioWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *minioWriter) Close() error {
	w.pw.Close()
	return <-w.done
}

func (s *StorageMinio) WriteFile(name string) (io.WriteCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w %v", ErrInvalidName, name)
	}
	s.log.Infof("Writing %v/%v", s.bucket, name)
	pr, pw := io.Pipe()
	w := &minioWriter{
		pw:   pw,
		done: make(chan error, 1),
	}
	go func() {
		_, err := s.client.PutObject(context.Background(), s.bucket, name, pr, -1, minio.PutObjectOptions{
			ContentType: contentTypeFor(name),
		})
		// Unblock the writer if PutObject failed before draining the pipe
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (s *StorageMinio) ReadFile(name string) (*File, error) {
	obj, err := s.client.GetObject(context.Background(), s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, err
	}
	return &File{
		Reader:     obj,
		ModifiedAt: st.LastModified,
		Size:       st.Size,
	}, nil
}

func (s *StorageMinio) DeleteFile(name string) error {
	return s.client.RemoveObject(context.Background(), s.bucket, name, minio.RemoveObjectOptions{})
}

func (s *StorageMinio) Describe() string {
	return "minio " + s.client.EndpointURL().Host + "/" + s.bucket
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".webm":
		return "video/webm"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return "application/octet-stream"
}
