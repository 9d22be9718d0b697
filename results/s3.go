// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"nlpflow/platform/shared/config"
	"nlpflow/platform/shared/logger"
)

// S3API is the subset of the S3 client the store uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Record is the metadata object written next to each result
type s3Record struct {
	ResourceID  string          `json:"resource_id"`
	JobID       string          `json:"job_id"`
	Origin      string          `json:"origin"`
	ServiceName string          `json:"service_name"`
	Timestamp   time.Time       `json:"timestamp"`
	Config      json.RawMessage `json:"config,omitempty"`
	ResultKey   string          `json:"result_key"`
}

// S3Store keeps each result as "<prefix><id>/result.json" holding the pushed
// bytes, plus "<prefix><id>/record.json" with the job metadata and config.
// Writes are conditional (If-None-Match: *), so an existing id is never
// overwritten.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	newID  IDFunc
	log    *logger.Logger
}

// ConnectS3 builds an S3 client from cfg, verifies the bucket is reachable
// and returns a store on it.
func ConnectS3(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	// Explicit keys win; otherwise the default credential chain applies
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, newStorageError("s3", "Connect", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HeadBucket(pingCtx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, newStorageError("s3", "Connect", err)
	}

	return NewS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3Store wraps an existing client. A non-empty prefix gets a trailing
// slash if it lacks one.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		newID:  defaultID,
		log:    logger.New("results-s3"),
	}
}

// Close is a no-op; the S3 client holds no connection of its own
func (s *S3Store) Close(ctx context.Context) error {
	return nil
}

func (s *S3Store) resultKey(id string) string { return s.prefix + id + "/result.json" }
func (s *S3Store) recordKey(id string) string { return s.prefix + id + "/record.json" }

func (s *S3Store) putNew(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	return err
}

// Push writes the result object and then its record. A precondition
// failure on the result key means the id is taken and a new one is drawn.
func (s *S3Store) Push(ctx context.Context, jobID, origin, serviceName string, config, result json.RawMessage) (string, error) {
	if err := validatePayload(result); err != nil {
		return "", err
	}
	if len(config) > 0 && !json.Valid(config) {
		return "", errors.New("config payload is not valid JSON")
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		err := s.putNew(ctx, s.resultKey(id), result)
		if isS3Conflict(err) {
			s.log.Warn(jobID, origin, "Resource id collision, regenerating", map[string]interface{}{
				"resource_id": id,
			})
			continue
		}
		if err != nil {
			return "", newStorageError("s3", "Push", err)
		}

		record, err := json.Marshal(s3Record{
			ResourceID:  id,
			JobID:       jobID,
			Origin:      origin,
			ServiceName: serviceName,
			Timestamp:   time.Now().UTC(),
			Config:      config,
			ResultKey:   s.resultKey(id),
		})
		if err == nil {
			err = s.putNew(ctx, s.recordKey(id), record)
		}
		if err != nil {
			s.discard(id, jobID, origin)
			return "", newStorageError("s3", "Push", err)
		}
		return id, nil
	}
	return "", newStorageError("s3", "Push", ErrIDCollision)
}

// discard removes a result whose record could not be written so that a
// failed push leaves nothing fetchable behind.
func (s *S3Store) discard(id, jobID, origin string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.resultKey(id)),
	})
	if err != nil {
		s.log.ErrorWithErr(jobID, origin, "Failed to remove orphaned result object", err, map[string]interface{}{
			"resource_id": id,
		})
	}
}

// Fetch reads the result object. A missing key is reported as not found.
func (s *S3Store) Fetch(ctx context.Context, resourceID string) (json.RawMessage, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.resultKey(resourceID)),
	})
	if isS3NotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newStorageError("s3", "Fetch", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, newStorageError("s3", "Fetch", err)
	}
	return json.RawMessage(body), true, nil
}

func isS3Conflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}
