package main

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/joseph-ayodele/imagetext/internal/app"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
)

func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(os.Stdout, cfg.Log)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	worker, err := a.Worker()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	lambda.Start(handler(worker))
}

type eventHandler interface {
	HandleEvent(ctx context.Context, ev events.S3Event) ([]pipeline.RecordResult, error)
}

// handler returns an error only when a redelivery could change the outcome.
// Failures that are recorded on the job, and keys that never decode, end the
// invocation successfully.
func handler(w eventHandler) func(context.Context, events.S3Event) (map[string]any, error) {
	return func(ctx context.Context, ev events.S3Event) (map[string]any, error) {
		results, err := w.HandleEvent(ctx, ev)
		var retry []error
		for _, r := range results {
			if pipeline.Retryable(r.Err) {
				retry = append(retry, r.Err)
			}
		}
		if len(results) == 0 && err != nil && pipeline.Retryable(err) {
			retry = append(retry, err)
		}
		if len(retry) > 0 {
			return nil, errors.Join(retry...)
		}
		return map[string]any{"statusCode": 200, "records": results}, nil
	}
}
