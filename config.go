package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is read by the entrypoint and the local CLI only; the handler itself takes no configuration.
type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"json"` // json or text
	LogGroupName      string `env:"LOG_GROUP_NAME"`               // enables the CloudWatch hook outside Lambda
	LogStreamName     string `env:"LOG_STREAM_NAME"`
	EndpointURL       string `env:"AWS_ENDPOINT_URL"`
	ReplayConcurrency int    `env:"REPLAY_CONCURRENCY" envDefault:"10"`
}

func ParseS3URL(url string) (bucket string, prefix string, err error) {
	if !strings.HasPrefix(url, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URL, missing 's3://' prefix")
	}
	trimmedS3URL := strings.TrimPrefix(url, "s3://")
	splitPos := strings.Index(trimmedS3URL, "/")
	if splitPos == -1 {
		return "", "", fmt.Errorf("invalid S3 URL, no '/' found after bucket name")
	}
	bucket = trimmedS3URL[:splitPos]
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 URL, empty bucket name")
	}
	prefix = trimmedS3URL[splitPos+1:]
	return bucket, prefix, nil
}

func LoadConfigFromEnv() (Config, error) {
	config, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.LogGroupName != "" && config.LogStreamName == "" {
		return Config{}, fmt.Errorf("environment variable LOG_STREAM_NAME is required when LOG_GROUP_NAME is set")
	}

	switch config.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("environment variable LOG_FORMAT must be 'json' or 'text', got '%s'", config.LogFormat)
	}

	if config.ReplayConcurrency < 1 {
		return Config{}, fmt.Errorf("environment variable REPLAY_CONCURRENCY must be at least 1, got %d", config.ReplayConcurrency)
	}

	return config, nil
}
