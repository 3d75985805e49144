package dataset

import (
	"context"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/errors"
)

// openSource resolves uri to a batch source. Local files are memory mapped;
// remote objects are downloaded whole before decoding, so a cursor never
// waits on the network mid-scan.
func openSource(ctx context.Context, uri string, opts Options) (source, error) {
	alg, _ := compression.Detect(uri)
	switch {
	case strings.HasPrefix(uri, "s3://"):
		raw, err := fetchS3(ctx, uri)
		if err != nil {
			return nil, err
		}
		return remoteSource(raw, alg)
	case strings.HasPrefix(uri, "gs://"):
		raw, err := fetchGCS(ctx, uri, opts.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return remoteSource(raw, alg)
	case strings.HasPrefix(uri, "file://"):
		return openLocal(strings.TrimPrefix(uri, "file://"), alg)
	case strings.Contains(uri, "://"):
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported scheme in dataset uri %q", uri)
	default:
		return openLocal(uri, alg)
	}
}

func remoteSource(raw []byte, alg compression.Algorithm) (source, error) {
	if alg != compression.None {
		var err error
		raw, err = decompress(raw, alg)
		if err != nil {
			return nil, err
		}
	}
	return sourceFromBytes(raw, nil)
}

// splitObjectURI breaks scheme://bucket/key into its bucket and key parts.
func splitObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrorTypeConfig, "malformed dataset uri")
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.Newf(errors.ErrorTypeConfig, "dataset uri %q needs a bucket and an object key", uri)
	}
	return bucket, key, nil
}

func fetchS3(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := splitObjectURI(uri)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "loading aws configuration")
	}
	client := s3.NewFromConfig(cfg)
	downloader := manager.NewDownloader(client)
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "downloading s3 object")
	}
	return buf.Bytes(), nil
}

func fetchGCS(ctx context.Context, uri, credentialsFile string) ([]byte, error) {
	bucket, key, err := splitObjectURI(uri)
	if err != nil {
		return nil, err
	}
	var copts []option.ClientOption
	if credentialsFile != "" {
		copts = append(copts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, copts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "creating gcs client")
	}
	defer client.Close()
	rd, err := client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "opening gcs object")
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "downloading gcs object")
	}
	return data, nil
}
