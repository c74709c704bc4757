package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

// objectStore is the part of the S3 client manifests need.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Settings for S3-compatible stores such as R2 or MinIO. Without an endpoint
// the default AWS credential chain and region apply.
const (
	S3EndpointEnvVar        = "STEIGER_S3_ENDPOINT"
	S3AccessKeyIDEnvVar     = "STEIGER_S3_ACCESS_KEY_ID"
	S3SecretAccessKeyEnvVar = "STEIGER_S3_SECRET_ACCESS_KEY"
)

var newObjectStore = func(ctx context.Context) (objectStore, error) {
	if endpoint := os.Getenv(S3EndpointEnvVar); endpoint != "" {
		return s3.NewFromConfig(compatibleConfig(endpoint), func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func compatibleConfig(endpoint string) aws.Config {
	cfg := aws.NewConfig()
	cfg.BaseEndpoint = aws.String(endpoint)
	cfg.Region = "auto"
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		os.Getenv(S3AccessKeyIDEnvVar),
		os.Getenv(S3SecretAccessKeyEnvVar),
		"",
	)
	return *cfg
}

// WriteManifest writes m as JSON to dest, a local path or s3://bucket/key.
func WriteManifest(ctx context.Context, dest string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if isS3(dest) {
		bucket, key, err := parseS3URL(dest)
		if err != nil {
			return err
		}
		store, err := newObjectStore(ctx)
		if err != nil {
			return err
		}
		_, err = store.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("uploading manifest to %s: %w", dest, err)
		}
		console.Debugf("wrote build manifest to %s", dest)
		return nil
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	console.Debugf("wrote build manifest to %s", dest)
	return nil
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(ctx context.Context, src string) (Manifest, error) {
	var data []byte
	if isS3(src) {
		bucket, key, err := parseS3URL(src)
		if err != nil {
			return Manifest{}, err
		}
		store, err := newObjectStore(ctx)
		if err != nil {
			return Manifest{}, err
		}
		out, err := store.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return Manifest{}, fmt.Errorf("downloading manifest from %s: %w", src, err)
		}
		defer out.Body.Close()
		if data, err = io.ReadAll(out.Body); err != nil {
			return Manifest{}, err
		}
	} else {
		var err error
		if data, err = os.ReadFile(src); err != nil {
			return Manifest{}, fmt.Errorf("reading manifest: %w", err)
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest %s: %w", src, err)
	}
	return m, nil
}

func isS3(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

func parseS3URL(s string) (bucket, key string, err error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL %q: %w", s, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: expected s3://bucket/key", s)
	}
	return u.Host, key, nil
}
