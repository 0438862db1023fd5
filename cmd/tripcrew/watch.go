package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	pulsesink "github.com/tripcrew/tripcrew/features/stream/pulse"
	clientspulse "github.com/tripcrew/tripcrew/features/stream/pulse/clients/pulse"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session_id>",
	Short: "Follow the status events of a session",
	Long:  `Follow the status events a running server publishes for a session. Requires redis.url.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return errors.New("watch requires redis.url")
	}
	ctx := logContext(cfg.Debug)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := newRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return err
	}
	sub, err := pulsesink.NewSubscriber(pulsesink.SubscriberOptions{Client: pc})
	if err != nil {
		return err
	}
	events, errs, cancel, err := sub.Subscribe(ctx, pulsesink.StreamName(args[0]))
	if err != nil {
		return err
	}
	defer cancel()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Errorf(ctx, err, "watch")
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			line := fmt.Sprintf("turn %d  %-16s %s", ev.Turn, ev.Type, ev.Status)
			if ev.Stage != "" {
				line += "  stage=" + ev.Stage
			}
			fmt.Fprintln(out, line)
		}
	}
}
