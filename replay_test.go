package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3Api struct {
	mock.Mock
}

func (m *MockS3Api) ListObjectsV2(input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	args := m.Called(input)
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func singlePage(keys ...string) *s3.ListObjectsV2Output {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(key), Size: aws.Int64(10)})
	}
	return out
}

func readResponses(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var responses []Response
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.NoError(t, scanner.Err())
	return responses
}

func newTestReplayer(s3Client S3Api, concurrency int) (*Replayer, *Handler, *bytes.Buffer) {
	logger, _ := test.NewNullLogger()
	handler := NewHandler(logger)
	out := &bytes.Buffer{}
	return NewReplayer(handler, s3Client, "us-east-1", concurrency, logger, out), handler, out
}

func TestListObjects(t *testing.T) {
	t.Run("Pagination", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		mockS3Api.On("ListObjectsV2", mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
			return input.ContinuationToken == nil
		})).Return(&s3.ListObjectsV2Output{
			Contents: []*s3.Object{
				{Key: aws.String("uploads/"), Size: aws.Int64(0)},
				{Key: aws.String("uploads/one.mp4"), Size: aws.Int64(100)},
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("page-2"),
		}, nil)
		mockS3Api.On("ListObjectsV2", mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
			return aws.StringValue(input.ContinuationToken) == "page-2"
		})).Return(&s3.ListObjectsV2Output{
			Contents: []*s3.Object{
				{Key: aws.String("uploads/empty.txt"), Size: aws.Int64(0)},
			},
		}, nil)

		replayer, _, _ := newTestReplayer(mockS3Api, 1)

		objects, err := replayer.ListObjects("mock-bucket", "uploads/")
		require.NoError(t, err)

		// zero-size keys are kept unless they look like directories
		assert.Equal(t, []ObjectRef{
			{Bucket: "mock-bucket", Key: "uploads/one.mp4"},
			{Bucket: "mock-bucket", Key: "uploads/empty.txt"},
		}, objects)
		mockS3Api.AssertNumberOfCalls(t, "ListObjectsV2", 2)
	})

	t.Run("List error", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		mockS3Api.On("ListObjectsV2", mock.Anything).Return((*s3.ListObjectsV2Output)(nil), errors.New("no such bucket"))

		replayer, _, _ := newTestReplayer(mockS3Api, 1)

		_, err := replayer.ListObjects("mock-bucket", "")
		require.Error(t, err)
		assert.Equal(t, "failed to list objects: no such bucket", err.Error())
	})
}

func TestReplay(t *testing.T) {
	t.Run("Successful Replay", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		mockS3Api.On("ListObjectsV2", &s3.ListObjectsV2Input{
			Bucket: aws.String("mock-bucket"),
			Prefix: aws.String("mock-prefix"),
		}).Return(singlePage("mock-prefix/object1", "mock-prefix/object2", "mock-prefix/object3"), nil)

		replayer, _, out := newTestReplayer(mockS3Api, 2)

		err := replayer.Replay(context.Background(), "s3://mock-bucket/mock-prefix")
		require.NoError(t, err)

		responses := readResponses(t, out)
		require.Len(t, responses, 3)
		var bodies []string
		for _, resp := range responses {
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			bodies = append(bodies, resp.Body)
		}
		assert.ElementsMatch(t, []string{
			`{"bucket":"mock-bucket","key":"mock-prefix/object1"}`,
			`{"bucket":"mock-bucket","key":"mock-prefix/object2"}`,
			`{"bucket":"mock-bucket","key":"mock-prefix/object3"}`,
		}, bodies)
		mockS3Api.AssertExpectations(t)
	})

	t.Run("Failed Invocations", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		mockS3Api.On("ListObjectsV2", mock.Anything).Return(singlePage("a", "b", "c"), nil)

		replayer, handler, out := newTestReplayer(mockS3Api, 3)
		handler.encode = func(any) ([]byte, error) {
			return nil, errors.New("encode failed")
		}

		err := replayer.Replay(context.Background(), "s3://mock-bucket/")
		require.Error(t, err)
		assert.Equal(t, "3 of 3 replayed events failed", err.Error())

		for _, resp := range readResponses(t, out) {
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		}
	})

	t.Run("Invalid URL", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		replayer, _, _ := newTestReplayer(mockS3Api, 1)

		err := replayer.Replay(context.Background(), "https://mock-bucket/key")
		require.Error(t, err)
		assert.Equal(t, "failed to parse S3 URL: invalid S3 URL, missing 's3://' prefix", err.Error())
		mockS3Api.AssertNotCalled(t, "ListObjectsV2", mock.Anything)
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		mockS3Api.On("ListObjectsV2", mock.Anything).Return(singlePage("a", "b"), nil)

		replayer, _, out := newTestReplayer(mockS3Api, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := replayer.Replay(ctx, "s3://mock-bucket/")
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, out.String())
	})

	t.Run("Bounded Concurrency", func(t *testing.T) {
		mockS3Api := new(MockS3Api)
		mockS3Api.On("ListObjectsV2", mock.Anything).Return(singlePage("a", "b", "c", "d", "e", "f", "g", "h"), nil)

		replayer, handler, out := newTestReplayer(mockS3Api, 2)
		var inFlight, maxInFlight atomic.Int32
		handler.encode = func(v any) ([]byte, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				current := maxInFlight.Load()
				if n <= current || maxInFlight.CompareAndSwap(current, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return encodeJSON(v)
		}

		err := replayer.Replay(context.Background(), "s3://mock-bucket/")
		require.NoError(t, err)

		assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
		assert.Len(t, readResponses(t, out), 8)
	})
}

func TestNewObjectCreatedEvent(t *testing.T) {
	event := NewObjectCreatedEvent(ObjectRef{Bucket: "my-bucket", Key: "my-key.txt"}, "ap-southeast-2")

	require.Len(t, event.Records, 1)
	record := event.Records[0]
	assert.Equal(t, "ObjectCreated:Put", record.EventName)
	assert.Equal(t, "aws:s3", record.EventSource)
	assert.Equal(t, "ap-southeast-2", record.AWSRegion)
	assert.Equal(t, "my-bucket", record.S3.Bucket.Name)
	assert.Equal(t, "arn:aws:s3:::my-bucket", record.S3.Bucket.Arn)
	assert.Equal(t, "my-key.txt", record.S3.Object.Key)
}
