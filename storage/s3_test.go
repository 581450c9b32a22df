package storage

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	times   map[string]time.Time
	clock   time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, times: map[string]time.Time{}, clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.clock = f.clock.Add(time.Minute)
	f.objects[key] = data
	f.times[key] = f.clock
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			modified := f.times[key]
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), LastModified: &modified})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestSnapshotKey(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 30, 5, 0, time.UTC)
	assert.Equal(t, "gazetteer/neru/snapshot-2025-03-10T12-30-05Z.json.gz", SnapshotKey("neru", at))
}

func TestSnapshotStoreUploadAndRotate(t *testing.T) {
	fake := newFakeS3()
	store := &SnapshotStore{Client: fake, Bucket: "snapshots", BaseURL: "https://s3.example"}
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var keys []string
	for i := range 5 {
		link, err := store.UploadSnapshot(ctx, "neru", []byte("x"), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		keys = append(keys, strings.TrimPrefix(link, "https://s3.example/snapshots/"))
	}
	_, err := store.UploadSnapshot(ctx, "suriname", []byte("y"), base)
	require.NoError(t, err)

	deleted, err := store.RotateSnapshots(ctx, "neru", 3)
	require.NoError(t, err)
	sort.Strings(deleted)
	assert.Equal(t, keys[:2], deleted)
	assert.Len(t, fake.objects, 4)
	assert.Contains(t, fake.objects, SnapshotKey("suriname", base))

	deleted, err = store.RotateSnapshots(ctx, "neru", 3)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
