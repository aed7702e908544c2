package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/assessment-ingest/internal/config"
	"github.com/sells-group/assessment-ingest/internal/monitoring"
	"github.com/sells-group/assessment-ingest/internal/queue"
	"github.com/sells-group/assessment-ingest/pkg/cloudflare"
)

var (
	workerDLQ bool
	workerAll bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the ingest queue (and optionally its dead-letter queue)",
	Long: "Pulls ingest messages from the Cloudflare queue and processes each upload. " +
		"With --dlq only the dead-letter queue is consumed; --all runs both.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runIngest := !workerDLQ || workerAll
		runDLQ := workerDLQ || workerAll

		if runIngest {
			if err := cfg.Validate(config.ModeWorker); err != nil {
				return err
			}
		}
		if runDLQ {
			if err := cfg.Validate(config.ModeDLQ); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cf := newCloudflare(cfg.Queue)
		g, gctx := errgroup.WithContext(ctx)

		if runIngest {
			proc, closeFn, err := buildProcessor(gctx, cfg, cf)
			if err != nil {
				return err
			}
			defer closeFn()
			loop := queue.NewPullLoop(cf, queue.NewConsumer(proc), ingestPullConfig(cfg))
			g.Go(func() error { return loop.Run(gctx) })
		}
		if runDLQ {
			handler := queue.NewDeadLetterHandler(monitoring.NewAlerter(cfg.Alert))
			loop := queue.NewPullLoop(cf, handler, dlqPullConfig(cfg))
			g.Go(func() error { return loop.Run(gctx) })
		}

		return g.Wait()
	},
}

// buildProcessor picks how the worker handles an upload: in-process, via
// the API server, or with edge inference reported back to the server.
func buildProcessor(ctx context.Context, c *config.Config, cf *cloudflare.Client) (queue.Processor, func(), error) {
	noop := func() {}
	if c.Internal.BaseURL != "" {
		svc := serviceClient(c)
		if !c.Internal.EdgeMode {
			zap.L().Info("worker: delegating uploads to api server", zap.String("base_url", c.Internal.BaseURL))
			return queue.ServiceProcessor(svc), noop, nil
		}
		docs, err := initStorage(c.Storage)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("worker: edge inference enabled", zap.String("model", c.Internal.EdgeModel))
		return queue.NewEdgeRunner(svc, docs, cf, c.Internal.EdgeModel), noop, nil
	}

	env, err := initEnv(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return queue.JobProcessor(env.Job), env.Close, nil
}

// serviceClient sizes requests for a whole job: the server answers
// /internal/ingest only after every provider in the chain has run.
func serviceClient(c *config.Config) *queue.ServiceClient {
	return queue.NewServiceClient(c.Internal.BaseURL, c.Internal.Secret, c.JobTimeout())
}

func ingestPullConfig(c *config.Config) queue.PullConfig {
	q := c.Queue
	return queue.PullConfig{
		QueueID:           q.QueueID,
		BatchSize:         q.BatchSize,
		VisibilityTimeout: c.LeaseTimeout(),
		IdleWait:          time.Duration(q.MaxWaitMS) * time.Millisecond,
		RetryDelay:        time.Duration(q.RetryDelaySecs) * time.Second,
		DeadLetterQueueID: q.DLQID,
		MaxRetries:        q.MaxRetries,
	}
}

// dlqPullConfig never forwards: the dead-letter queue is the end of the
// line.
func dlqPullConfig(c *config.Config) queue.PullConfig {
	q := c.Queue
	return queue.PullConfig{
		QueueID:           q.DLQID,
		BatchSize:         q.BatchSize,
		VisibilityTimeout: time.Duration(q.VisibilityTimeoutMS) * time.Millisecond,
		IdleWait:          time.Duration(q.MaxWaitMS) * time.Millisecond,
		RetryDelay:        time.Duration(q.RetryDelaySecs) * time.Second,
	}
}

func init() {
	workerCmd.Flags().BoolVar(&workerDLQ, "dlq", false, "consume only the dead-letter queue")
	workerCmd.Flags().BoolVar(&workerAll, "all", false, "consume the ingest queue and the dead-letter queue")
	rootCmd.AddCommand(workerCmd)
}
