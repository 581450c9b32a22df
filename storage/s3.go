package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"anno-linker/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SnapshotAPI ist der Teil des S3-Clients, den die Snapshot-Ablage benötigt.
type SnapshotAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// SnapshotStore legt Gazetteer-Snapshots unter gazetteer/<projekt>/ ab.
type SnapshotStore struct {
	Client  SnapshotAPI
	Bucket  string
	BaseURL string
}

// NewSnapshotStore erstellt eine Snapshot-Ablage aus der Konfiguration.
func NewSnapshotStore(cfg *config.Config) (*SnapshotStore, error) {
	client, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{Client: client, Bucket: cfg.S3Bucket, BaseURL: cfg.S3URL}, nil
}

func snapshotPrefix(project string) string {
	return fmt.Sprintf("gazetteer/%s/", project)
}

// SnapshotKey ist der Objektschlüssel eines Snapshots.
func SnapshotKey(project string, at time.Time) string {
	return fmt.Sprintf("%ssnapshot-%s.json.gz", snapshotPrefix(project), at.UTC().Format("2006-01-02T15-04-05Z"))
}

// UploadSnapshot lädt den Snapshot hoch und gibt den Link zurück.
func (s *SnapshotStore) UploadSnapshot(ctx context.Context, project string, data []byte, at time.Time) (string, error) {
	key := SnapshotKey(project, at)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.BaseURL, s.Bucket, key), nil
}

// RotateSnapshots behält die keep neuesten Snapshots des Projekts und löscht den Rest.
func (s *SnapshotStore) RotateSnapshots(ctx context.Context, project string, keep int) ([]string, error) {
	output, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(snapshotPrefix(project)),
	})
	if err != nil {
		return nil, err
	}
	if len(output.Contents) <= keep {
		return nil, nil
	}

	objects := output.Contents
	sort.Slice(objects, func(i, j int) bool {
		a, b := objects[i].LastModified, objects[j].LastModified
		if a == nil || b == nil || a.Equal(*b) {
			return aws.ToString(objects[i].Key) > aws.ToString(objects[j].Key)
		}
		return a.After(*b)
	})

	var deleted []string
	var firstErr error
	for _, obj := range objects[keep:] {
		_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
			}
			continue
		}
		deleted = append(deleted, aws.ToString(obj.Key))
	}
	return deleted, firstErr
}
