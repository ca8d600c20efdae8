//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of songlake.
//
// songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with songlake. If not, see https://www.gnu.org/licenses/.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Location.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Options configures how the S3 client is built.
type S3Options struct {
	Region         string          // AWS region
	Profile        string          // AWS profile to use
	Credentials    aws.Credentials // Explicit credentials
	EndpointURL    string          // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	MaxKeys        int32           // Page size for listings
	Client         S3API           // Prebuilt client, skips config loading
}

// S3Option represents a configuration function for S3Location.
type S3Option func(*S3Options)

func WithS3Region(region string) S3Option {
	return func(opts *S3Options) {
		opts.Region = region
	}
}

func WithS3Profile(profile string) S3Option {
	return func(opts *S3Options) {
		opts.Profile = profile
	}
}

func WithS3Credentials(creds aws.Credentials) S3Option {
	return func(opts *S3Options) {
		opts.Credentials = creds
	}
}

func WithS3Endpoint(endpoint string) S3Option {
	return func(opts *S3Options) {
		opts.EndpointURL = endpoint
	}
}

func WithS3PathStyle(pathStyle bool) S3Option {
	return func(opts *S3Options) {
		opts.ForcePathStyle = pathStyle
	}
}

func WithS3MaxKeys(maxKeys int32) S3Option {
	return func(opts *S3Options) {
		opts.MaxKeys = maxKeys
	}
}

// WithS3Client injects an already configured client.
func WithS3Client(client S3API) S3Option {
	return func(opts *S3Options) {
		opts.Client = client
	}
}

// S3Location is a Location backed by a bucket and an optional key prefix.
type S3Location struct {
	client S3API
	bucket string
	prefix string
	opts   S3Options
}

// NewS3Location creates an S3 backed Location.
func NewS3Location(ctx context.Context, bucket, prefix string, options ...S3Option) (*S3Location, error) {
	opts := S3Options{MaxKeys: 1000}
	for _, option := range options {
		option(&opts)
	}
	if bucket == "" {
		return nil, &Error{Op: "validate_options", Err: fmt.Errorf("bucket is required")}
	}

	client := opts.Client
	if client == nil {
		cfg, err := createAWSConfig(ctx, opts)
		if err != nil {
			return nil, &Error{Op: "create_aws_config", Err: err}
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.EndpointURL != "" {
				o.BaseEndpoint = aws.String(opts.EndpointURL)
			}
			o.UsePathStyle = opts.ForcePathStyle
		})
	}

	return &S3Location{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), opts: opts}, nil
}

// createAWSConfig creates AWS configuration from options
func createAWSConfig(ctx context.Context, opts S3Options) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}

func (s *S3Location) URI() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3Location) objectKey(key string) string {
	return Join(s.prefix, key)
}

func (s *S3Location) relativeKey(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.prefix+"/")
}

func (s *S3Location) listPrefix(prefix string) string {
	p := s.objectKey(prefix)
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *S3Location) List(ctx context.Context, prefix string) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(s.opts.MaxKeys),
	}
	if p := s.listPrefix(prefix); p != "" {
		input.Prefix = aws.String(p)
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &Error{Op: "list", Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // folder placeholder
			}
			objects = append(objects, Object{Key: s.relativeKey(key), Size: aws.ToInt64(obj.Size)})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *S3Location) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, &Error{Op: "open", Key: key, Err: err}
	}
	return result.Body, nil
}

// s3WriteCloser buffers an object in memory and uploads it on Close.
type s3WriteCloser struct {
	ctx    context.Context
	buf    bytes.Buffer
	client S3API
	bucket string
	key    string
	closed bool
}

func (w *s3WriteCloser) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed object %s", w.key)
	}
	return w.buf.Write(p)
}

func (w *s3WriteCloser) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	if err != nil {
		return &Error{Op: "put", Key: w.key, Err: err}
	}
	return nil
}

func (s *S3Location) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return &s3WriteCloser{ctx: ctx, client: s.client, bucket: s.bucket, key: s.objectKey(key)}, nil
}

// deleteBatch is the DeleteObjects request limit.
const deleteBatch = 1000

func (s *S3Location) RemoveAll(ctx context.Context, prefix string) error {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return &Error{Op: "remove", Key: prefix, Err: err}
	}
	for start := 0; start < len(objects); start += deleteBatch {
		end := min(start+deleteBatch, len(objects))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.objectKey(obj.Key))})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return &Error{Op: "remove", Key: prefix, Err: err}
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return &Error{Op: "remove", Key: aws.ToString(first.Key), Err: fmt.Errorf("%s: %s", aws.ToString(first.Code), aws.ToString(first.Message))}
		}
	}
	return nil
}

func (s *S3Location) Exists(ctx context.Context, key string) (bool, error) {
	target := s.objectKey(key)
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(target),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, &Error{Op: "stat", Key: key, Err: err}
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) == target {
			return true, nil
		}
	}
	return false, nil
}
