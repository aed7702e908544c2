package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/assessment-ingest/internal/config"
	"github.com/sells-group/assessment-ingest/internal/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <upload-id>...",
	Short: "Queue uploads for ingestion, processing inline when the queue is unavailable",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := parseUploadID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := cfg.Validate(config.ModeEnqueue); err != nil {
			if ierr := cfg.Validate(config.ModeIngest); ierr != nil {
				return err
			}
		}

		ctx := cmd.Context()
		var sender queue.Sender
		if cfg.Queue.Configured() {
			sender = newCloudflare(cfg.Queue)
		}
		inline := &lazyJob{cfg: cfg}
		defer inline.Close()

		var failed atomic.Int32
		bg := queue.NewBackground(ctx, inline.Process,
			queue.WithErrorCallback(func(queue.TaskError) { failed.Add(1) }),
		)
		dispatcher := queue.NewDispatcher(queue.NewProducer(sender, cfg.Queue), bg)

		for _, id := range ids {
			route := dispatcher.Dispatch(ctx, id)
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, route)
		}
		bg.Wait()

		if n := failed.Load(); n > 0 {
			return eris.Errorf("%d of %d uploads failed inline", n, len(ids))
		}
		return nil
	},
}

// lazyJob builds the in-process environment on first use so a configured
// queue never touches the database.
type lazyJob struct {
	cfg  *config.Config
	once sync.Once
	env  *ingestEnv
	err  error
}

func (l *lazyJob) Process(ctx context.Context, uploadID int64) error {
	l.once.Do(func() {
		l.env, l.err = initEnv(ctx, l.cfg)
	})
	if l.err != nil {
		return l.err
	}
	_, err := l.env.Job.Process(ctx, uploadID)
	return err
}

func (l *lazyJob) Close() {
	if l.env != nil {
		l.env.Close()
	}
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}
