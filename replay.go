package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type S3Api interface {
	ListObjectsV2(input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
}

// Replayer feeds existing bucket objects through the handler as if they had
// just been created. Object contents are never read.
type Replayer struct {
	handler     *Handler
	s3Client    S3Api
	region      string
	concurrency int
	logger      logrus.FieldLogger
	out         io.Writer

	outMu sync.Mutex
}

func NewReplayer(handler *Handler, s3Client S3Api, region string, concurrency int, logger logrus.FieldLogger, out io.Writer) *Replayer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Replayer{
		handler:     handler,
		s3Client:    s3Client,
		region:      region,
		concurrency: concurrency,
		logger:      logger,
		out:         out,
	}
}

func (r *Replayer) Replay(ctx context.Context, url string) error {
	bucket, prefix, err := ParseS3URL(url)
	if err != nil {
		return fmt.Errorf("failed to parse S3 URL: %w", err)
	}

	objects, err := r.ListObjects(bucket, prefix)
	if err != nil {
		return err
	}
	r.logger.WithField("count", len(objects)).Infof("replaying objects from s3://%s/%s", bucket, prefix)

	counter, err := r.invokeAll(ctx, objects)
	succeeded, failed := counter.Values()
	r.logger.WithFields(logrus.Fields{"succeeded": succeeded, "failed": failed}).Info("replay finished")
	if err != nil {
		return fmt.Errorf("replay interrupted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d replayed events failed", failed, len(objects))
	}

	return nil
}

func (r *Replayer) ListObjects(bucket, prefix string) ([]ObjectRef, error) {
	var refs []ObjectRef
	var continuationToken *string
	for {
		resp, err := r.s3Client.ListObjectsV2(&s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		objects := lo.Reject(resp.Contents, func(o *s3.Object, _ int) bool {
			return isDirectoryMarker(o)
		})
		refs = append(refs, lo.Map(objects, func(o *s3.Object, _ int) ObjectRef {
			return ObjectRef{Bucket: bucket, Key: aws.StringValue(o.Key)}
		})...)

		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
		continuationToken = resp.NextContinuationToken
	}

	return refs, nil
}

func isDirectoryMarker(o *s3.Object) bool {
	return aws.Int64Value(o.Size) == 0 && strings.HasSuffix(aws.StringValue(o.Key), "/")
}

// NewObjectCreatedEvent builds the single-record notification S3 would send for obj.
func NewObjectCreatedEvent(obj ObjectRef, region string) events.S3Event {
	return events.S3Event{
		Records: []events.S3EventRecord{
			{
				EventVersion: "2.1",
				EventSource:  "aws:s3",
				AWSRegion:    region,
				EventName:    "ObjectCreated:Put",
				S3: events.S3Entity{
					SchemaVersion: "1.0",
					Bucket: events.S3Bucket{
						Name: obj.Bucket,
						Arn:  "arn:aws:s3:::" + obj.Bucket,
					},
					Object: events.S3Object{
						Key: obj.Key,
					},
				},
			},
		},
	}
}

func (r *Replayer) invokeAll(ctx context.Context, objects []ObjectRef) (*ResultCounter, error) {
	counter := &ResultCounter{}
	var wg sync.WaitGroup
	concurrent := make(chan struct{}, r.concurrency) // limit concurrent invocations
	for _, obj := range objects {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		concurrent <- struct{}{}
		go func(obj ObjectRef) {
			defer func() { wg.Done(); <-concurrent }()
			resp, _ := r.handler.HandleLambdaEvent(ctx, NewObjectCreatedEvent(obj, r.region))
			counter.Record(resp)
			r.writeResponse(resp)
		}(obj)
	}
	wg.Wait()

	return counter, ctx.Err()
}

func (r *Replayer) writeResponse(resp Response) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	if err := json.NewEncoder(r.out).Encode(resp); err != nil {
		r.logger.WithError(err).Warn("unable to write response")
	}
}
