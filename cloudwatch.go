package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/sirupsen/logrus"
)

const (
	// maxBatchSize The maximum batch size of a PutLogEvents request to CloudWatch is 1MB (1_048_576 bytes)
	maxBatchSize = 1_048_576
	// maxBatchCount The maximum number of events in a PutLogEvents request to CloudWatch is 10_000
	maxBatchCount = 10_000
)

type CloudWatchLogsAPI interface {
	PutLogEvents(*cloudwatchlogs.PutLogEventsInput) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogGroup(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(*cloudwatchlogs.CreateLogStreamInput) (*cloudwatchlogs.CreateLogStreamOutput, error)
	DescribeLogGroups(*cloudwatchlogs.DescribeLogGroupsInput) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	DescribeLogStreams(*cloudwatchlogs.DescribeLogStreamsInput) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
}

type LogDestination struct {
	GroupName  string
	StreamName string
}

func EnsureLogDestination(client CloudWatchLogsAPI, dest LogDestination) error {
	if err := ensureLogGroupExists(client, dest.GroupName); err != nil {
		return fmt.Errorf("error ensuring log group %s: %w", dest.GroupName, err)
	}
	if err := ensureLogStreamExists(client, dest.GroupName, dest.StreamName); err != nil {
		return fmt.Errorf("error ensuring log stream %s: %w", dest.StreamName, err)
	}

	return nil
}

func ensureLogGroupExists(client CloudWatchLogsAPI, name string) error {
	input := &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(name),
	}
	for {
		resp, err := client.DescribeLogGroups(input)
		if err != nil {
			return err
		}
		for _, logGroup := range resp.LogGroups {
			if aws.StringValue(logGroup.LogGroupName) == name {
				return nil
			}
		}
		if aws.StringValue(resp.NextToken) == "" {
			break
		}
		input.NextToken = resp.NextToken
	}
	_, err := client.CreateLogGroup(&cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(name),
	})

	return ignoreAlreadyExists(err)
}

func ensureLogStreamExists(client CloudWatchLogsAPI, logGroupName, logStreamName string) error {
	input := &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(logGroupName),
		LogStreamNamePrefix: aws.String(logStreamName),
	}
	for {
		resp, err := client.DescribeLogStreams(input)
		if err != nil {
			return err
		}
		for _, logStream := range resp.LogStreams {
			if aws.StringValue(logStream.LogStreamName) == logStreamName {
				return nil
			}
		}
		if aws.StringValue(resp.NextToken) == "" {
			break
		}
		input.NextToken = resp.NextToken
	}
	_, err := client.CreateLogStream(&cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(logGroupName),
		LogStreamName: aws.String(logStreamName),
	})

	return ignoreAlreadyExists(err)
}

// ignoreAlreadyExists covers a group or stream created between describe and create.
func ignoreAlreadyExists(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == cloudwatchlogs.ErrCodeResourceAlreadyExistsException {
		return nil
	}

	return err
}

func SendEventsToCloudWatch(client CloudWatchLogsAPI, dest LogDestination, events []*cloudwatchlogs.InputLogEvent) error {
	// Log events in a single PutLogEvents request must be in chronological order
	sortByTimestamp(events)
	_, err := client.PutLogEvents(&cloudwatchlogs.PutLogEventsInput{
		LogEvents:     events,
		LogGroupName:  aws.String(dest.GroupName),
		LogStreamName: aws.String(dest.StreamName),
	})

	return err
}

func EstimateEventSize(event *cloudwatchlogs.InputLogEvent) int {
	// Request size to CloudWatch is calculated as the sum of all event messages in UTF-8, plus 26 bytes for each log event
	// https://docs.aws.amazon.com/AmazonCloudWatch/latest/logs/cloudwatch_limits_cwl.html
	return len(*event.Message) + 26
}

func sortByTimestamp(events []*cloudwatchlogs.InputLogEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return aws.Int64Value(events[i].Timestamp) < aws.Int64Value(events[j].Timestamp)
	})
}

// batchEvents splits events into PutLogEvents sized batches, keeping their order.
func batchEvents(events []*cloudwatchlogs.InputLogEvent) [][]*cloudwatchlogs.InputLogEvent {
	var batches [][]*cloudwatchlogs.InputLogEvent
	var current []*cloudwatchlogs.InputLogEvent
	var currentBatchSize int
	for _, event := range events {
		eventSize := EstimateEventSize(event)
		if len(current) > 0 && (currentBatchSize+eventSize > maxBatchSize || len(current) >= maxBatchCount) {
			batches = append(batches, current)
			current = nil
			currentBatchSize = 0
		}
		current = append(current, event)
		currentBatchSize += eventSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// CloudWatchHook buffers log entries and ships them to a log stream on Flush.
// Used when running outside Lambda, where stdout is not collected by CloudWatch.
type CloudWatchHook struct {
	client    CloudWatchLogsAPI
	dest      LogDestination
	formatter logrus.Formatter

	mu      sync.Mutex
	pending []*cloudwatchlogs.InputLogEvent
}

func NewCloudWatchHook(client CloudWatchLogsAPI, dest LogDestination) *CloudWatchHook {
	return &CloudWatchHook{
		client:    client,
		dest:      dest,
		formatter: &logrus.JSONFormatter{},
	}
}

func (h *CloudWatchHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *CloudWatchHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	event := &cloudwatchlogs.InputLogEvent{
		Message:   aws.String(strings.TrimSuffix(string(line), "\n")),
		Timestamp: aws.Int64(entry.Time.UnixMilli()),
	}

	h.mu.Lock()
	h.pending = append(h.pending, event)
	h.mu.Unlock()

	return nil
}

func (h *CloudWatchHook) Flush() error {
	h.mu.Lock()
	events := h.pending
	h.pending = nil
	h.mu.Unlock()

	sortByTimestamp(events)
	var errs []error
	for _, batch := range batchEvents(events) {
		if err := SendEventsToCloudWatch(h.client, h.dest, batch); err != nil {
			errs = append(errs, fmt.Errorf("error sending %d events to CloudWatch: %w", len(batch), err))
		}
	}

	return errors.Join(errs...)
}
