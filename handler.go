package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/sirupsen/logrus"
)

const failureMessage = "Error processing file"

var (
	errNoRecords    = &ProcessingError{Reason: "event contains no records"}
	errNoBucketName = &ProcessingError{Reason: "record contains no bucket name"}
	errNoObjectKey  = &ProcessingError{Reason: "record contains no object key"}
)

// BodyEncoder serializes a response body.
type BodyEncoder func(v any) ([]byte, error)

// Handler turns S3 notifications into a Response. It holds no per-invocation state.
type Handler struct {
	logger logrus.FieldLogger
	encode BodyEncoder
}

func NewHandler(logger logrus.FieldLogger) *Handler {
	return &Handler{logger: logger, encode: encodeJSON}
}

// encodeJSON marshals v without escaping <, > and &.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HandleLambdaEvent is the Lambda entrypoint. Failures are reported in the
// Response, so the returned error is always nil.
func (h *Handler) HandleLambdaEvent(ctx context.Context, event events.S3Event) (Response, error) {
	logger := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.WithField("requestId", lc.AwsRequestID)
	}

	return h.handle(logger, event), nil
}

func (h *Handler) Handle(event events.S3Event) Response {
	return h.handle(h.logger, event)
}

func (h *Handler) handle(logger logrus.FieldLogger, event events.S3Event) Response {
	raw, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Warn("unable to serialize s3 event")
	} else {
		logger.WithField("event", string(raw)).Info("s3 event")
	}

	resp, err := h.process(logger, event)
	if err != nil {
		logger.WithError(err).Error("error getting object")

		return failureResponse(err)
	}

	return resp
}

// process covers everything between receiving the event and building the
// success response. Errors and panics raised here become a ProcessingError.
func (h *Handler) process(logger logrus.FieldLogger, event events.S3Event) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{Reason: fmt.Sprint(r)}
		}
	}()

	if len(event.Records) == 0 {
		return Response{}, errNoRecords
	}
	// only the first record is consulted
	record := event.Records[0]
	obj := ObjectRef{Bucket: record.S3.Bucket.Name, Key: record.S3.Object.Key}
	if obj.Bucket == "" {
		return Response{}, errNoBucketName
	}
	if obj.Key == "" {
		return Response{}, errNoObjectKey
	}

	logger.WithFields(logrus.Fields{"bucket": obj.Bucket, "key": obj.Key}).Info("object received")

	body, err := h.encode(successBody{Bucket: obj.Bucket, Key: obj.Key})
	if err != nil {
		return Response{}, asProcessingError(err)
	}

	return Response{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func asProcessingError(err error) *ProcessingError {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe
	}

	return &ProcessingError{Reason: err.Error()}
}

func failureResponse(err error) Response {
	// a struct of strings always encodes
	body, _ := encodeJSON(failureBody{Message: failureMessage, Error: err.Error()})

	return Response{StatusCode: http.StatusInternalServerError, Body: string(body)}
}
