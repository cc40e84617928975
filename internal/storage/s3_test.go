package storage

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	objects map[string]string
	types   map[string]string
	pages   int
	deleted []string
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = string(body)
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

// ListObjectsV2 returns one key per page to exercise pagination.
func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	f.pages++
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if start < len(keys) {
		out.Contents = []types.Object{{Key: aws.String(keys[start])}}
	}
	if start+1 < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(start + 1))
	}
	return out, nil
}

func (f *fakeObjects) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, o := range in.Delete.Objects {
		f.deleted = append(f.deleted, *o.Key)
		delete(f.objects, *o.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestBucket_PutListDelete(t *testing.T) {
	f := &fakeObjects{objects: map[string]string{}, types: map[string]string{}}
	b := &Bucket{client: f, name: "corpus"}
	ctx := context.Background()

	key, err := b.PutFile(ctx, "uploads/job1/", "../../etc/metformin.md", strings.NewReader("# Metformin"))
	if err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if key != "uploads/job1/metformin.md" {
		t.Fatalf("PutFile() key = %q", key)
	}
	if f.objects[key] != "# Metformin" {
		t.Fatalf("stored body = %q", f.objects[key])
	}
	if _, err := b.PutFile(ctx, "uploads/job1", "aspirin.md", strings.NewReader("# Aspirin")); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	f.objects["uploads/job2/other.md"] = "x"

	keys, err := b.ListFilesWithPrefix(ctx, "uploads/job1/")
	if err != nil {
		t.Fatalf("ListFilesWithPrefix() error = %v", err)
	}
	if strings.Join(keys, ",") != "uploads/job1/aspirin.md,uploads/job1/metformin.md" {
		t.Fatalf("ListFilesWithPrefix() = %v", keys)
	}
	if f.pages != 2 {
		t.Fatalf("pages = %d, want 2", f.pages)
	}

	if err := b.DeleteFolder(ctx, "uploads/job1/"); err != nil {
		t.Fatalf("DeleteFolder() error = %v", err)
	}
	if len(f.deleted) != 2 || len(f.objects) != 1 {
		t.Fatalf("deleted = %v, remaining = %v", f.deleted, f.objects)
	}
}
