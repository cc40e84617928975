package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/medgraph/pkg/loader"
)

// objectAPI is the part of *s3.Client the loader uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3GraphFileLoader lists and loads markdown sources below a prefix of an
// S3 bucket.
type S3GraphFileLoader struct {
	bucket string
	prefix string
	keys   []string
	client objectAPI

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewS3GraphFileLoaderWithClient creates a loader using an existing client.
// With keys set, ListFiles returns exactly those keys instead of listing
// the prefix.
func NewS3GraphFileLoaderWithClient(bucket, prefix string, keys []string, client *s3.Client) *S3GraphFileLoader {
	return newLoader(bucket, prefix, keys, client)
}

func newLoader(bucket, prefix string, keys []string, client objectAPI) *S3GraphFileLoader {
	return &S3GraphFileLoader{
		bucket: bucket,
		prefix: prefix,
		keys:   keys,
		client: client,
		cache:  make(map[string][]byte),
	}
}

// NewS3GraphFileLoaderParams defines the configuration parameters for
// creating a new S3GraphFileLoader.
//
// Endpoint allows overriding the S3 endpoint (useful for S3-compatible
// storage like MinIO).
type NewS3GraphFileLoaderParams struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3GraphFileLoader creates a loader with static credentials and the
// given endpoint/region.
func NewS3GraphFileLoader(ctx context.Context, params NewS3GraphFileLoaderParams) (*S3GraphFileLoader, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return newLoader(params.Bucket, params.Prefix, nil, client), nil
}

var _ loader.Source = (*S3GraphFileLoader)(nil)

// ListFiles returns the markdown objects below the prefix sorted by key.
func (l *S3GraphFileLoader) ListFiles(ctx context.Context) ([]loader.GraphFile, error) {
	var files []loader.GraphFile
	if len(l.keys) > 0 {
		for _, k := range l.keys {
			if loader.IsMarkdown(k) {
				files = append(files, loader.GraphFile{ID: k, FilePath: k, Loader: l})
			}
		}
		loader.SortFiles(files)
		return files, nil
	}

	p := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(l.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", l.bucket, l.prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !loader.IsMarkdown(*obj.Key) {
				continue
			}
			files = append(files, loader.GraphFile{ID: *obj.Key, FilePath: *obj.Key, Loader: l})
		}
	}
	loader.SortFiles(files)
	return files, nil
}

// GetFileText retrieves the contents of the given GraphFile from the
// configured S3 bucket. Results are cached.
func (l *S3GraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	cacheKey := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[cacheKey]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(cacheKey, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[cacheKey]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(file.FilePath),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}

		byts := buf.Bytes()

		l.cacheMu.Lock()
		l.cache[cacheKey] = byts
		l.cacheMu.Unlock()

		return byts, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}
