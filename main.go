package main

import (
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"
)

func main() {
	config, err := LoadConfigFromEnv()
	if err != nil {
		logrus.Fatalln(err)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		logger, err := NewLogger(config, os.Stdout)
		if err != nil {
			logrus.Fatalln(err)
		}
		lambda.Start(NewHandler(logger).HandleLambdaEvent)
		return
	}

	// responses go to stdout, so local logs go to stderr
	logger, err := NewLogger(config, os.Stderr)
	if err != nil {
		logrus.Fatalln(err)
	}
	sess, err := newSession(config)
	if err != nil {
		logger.Fatalf("creating AWS session: %s", err)
	}

	var hook *CloudWatchHook
	if config.LogGroupName != "" {
		dest := LogDestination{GroupName: config.LogGroupName, StreamName: config.LogStreamName}
		cwClient := cloudwatchlogs.New(sess)
		if err := EnsureLogDestination(cwClient, dest); err != nil {
			logger.Fatalf("error creating log group and stream: %s", err)
		}
		hook = NewCloudWatchHook(cwClient, dest)
		logger.AddHook(hook)
	}

	app := &localApp{
		config:   config,
		logger:   logger,
		handler:  NewHandler(logger),
		s3Client: s3.New(sess),
		region:   aws.StringValue(sess.Config.Region),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
	}
	err = app.command().Run(os.Args)
	if err != nil {
		logger.WithError(err).Error("command failed")
	}
	if hook != nil {
		if ferr := hook.Flush(); ferr != nil {
			fmt.Fprintln(os.Stderr, ferr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func newSession(config Config) (*session.Session, error) {
	awsConfig := aws.NewConfig()
	if config.EndpointURL != "" {
		awsConfig = awsConfig.WithEndpoint(config.EndpointURL).WithS3ForcePathStyle(true)
	}

	return session.NewSession(awsConfig)
}
