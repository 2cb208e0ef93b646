package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// localApp runs the handler from the command line instead of the Lambda runtime.
type localApp struct {
	config   Config
	logger   logrus.FieldLogger
	handler  *Handler
	s3Client S3Api
	region   string
	stdin    io.Reader
	stdout   io.Writer
}

func (a *localApp) command() *cli.App {
	return &cli.App{
		Name:      "s3-event-handler",
		Usage:     "Run the S3 event handler outside of Lambda",
		Reader:    a.stdin,
		Writer:    a.stdout,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:  "invoke",
				Usage: "Handle a single S3 event read from a file or stdin",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "event", Aliases: []string{"e"}, Value: "-", Usage: "path to the event JSON, - for stdin"},
				},
				Action: a.invoke,
			},
			{
				Name:      "replay",
				Usage:     "Handle a synthesized ObjectCreated event for every object under an S3 prefix",
				ArgsUsage: "s3://bucket/prefix",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Value: a.config.ReplayConcurrency, Usage: "max concurrent invocations"},
				},
				Action: a.replay,
			},
		},
	}
}

func (a *localApp) invoke(c *cli.Context) error {
	in := a.stdin
	if path := c.String("event"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open event file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var event events.S3Event
	dec := json.NewDecoder(in)
	if err := dec.Decode(&event); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("failed to decode event: unexpected data after the event document")
	}

	resp, _ := a.handler.HandleLambdaEvent(c.Context, event)

	return json.NewEncoder(a.stdout).Encode(resp)
}

func (a *localApp) replay(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return fmt.Errorf("s3 url is required as an argument")
	}
	concurrency := c.Int("concurrency")
	if concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}

	r := NewReplayer(a.handler, a.s3Client, a.region, concurrency, a.logger, a.stdout)

	return r.Replay(c.Context, url)
}
