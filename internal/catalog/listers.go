package catalog

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Compile-time checks.
var (
	_ ObjectLister = (*S3Lister)(nil)
	_ ObjectLister = (*GCSLister)(nil)
	_ ObjectLister = (*AzureLister)(nil)
)

// S3Credentials configures an S3 or S3-compatible endpoint.
type S3Credentials struct {
	Region       string
	Endpoint     string // host[:port] of an S3-compatible service; empty for AWS
	KeyID        string
	Secret       string
	SessionToken string
	URLStyle     string // "path" or "vhost"
	UseSSL       bool
}

// S3Lister lists objects with the AWS SDK v2.
type S3Lister struct {
	client *s3.Client
}

// NewS3Lister creates an S3 lister. Without a key the client is anonymous,
// which works for public buckets.
func NewS3Lister(cred S3Credentials) *S3Lister {
	opts := s3.Options{
		Region:       cred.Region,
		UsePathStyle: cred.URLStyle == "path",
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cred.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cred.KeyID, cred.Secret, cred.SessionToken)
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cred.Endpoint != "" {
		scheme := "https"
		if !cred.UseSSL {
			scheme = "http"
		}
		opts.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", scheme, cred.Endpoint))
	}
	return &S3Lister{client: s3.New(opts)}
}

// List returns every key below prefix.
func (l *S3Lister) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects in %q: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// GCSLister lists objects in Google Cloud Storage.
type GCSLister struct {
	client *storage.Client
}

// NewGCSLister creates a GCS lister from a service-account key file, or
// from application default credentials when keyFile is empty.
func NewGCSLister(ctx context.Context, keyFile string) (*GCSLister, error) {
	var opts []option.ClientOption
	if keyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, keyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSLister{client: client}, nil
}

// List returns every object name below prefix.
func (l *GCSLister) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := l.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects in %q: %w", bucket, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Close releases the underlying client.
func (l *GCSLister) Close() error {
	return l.client.Close()
}

// AzureLister lists blobs in an Azure Blob Storage account.
type AzureLister struct {
	client *azblob.Client
}

// NewAzureLister creates an Azure lister from a connection string or from
// shared-key credentials.
func NewAzureLister(accountName, accountKey, connectionString string) (*AzureLister, error) {
	if connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
		return &AzureLister{client: client}, nil
	}
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("azure account name and key, or a connection string, are required")
	}
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureLister{client: client}, nil
}

// List returns every blob name below prefix in the container.
func (l *AzureLister) List(ctx context.Context, container, prefix string) ([]string, error) {
	pager := l.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs in %q: %w", container, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}
