package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// drain waits d for the load balancer to notice the closed gate. A second
// signal cuts it short.
func drain(L log.Logger, d time.Duration) {
	ctx := context.Background()
	L.Info(ctx, "sleeping for drain period", "drain", d.String())

	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	select {
	case <-time.After(d):
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// stopAll runs each stop in order, each with an equal slice of budget, and
// keeps going past failures.
func stopAll(L log.Logger, budget time.Duration, stops []stopFn) error {
	if len(stops) == 0 {
		return nil
	}
	per := budget / time.Duration(len(stops))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var errs []error
	for _, s := range stops {
		cctx, ccancel := context.WithTimeout(ctx, per)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
		ccancel()
	}
	return errors.Join(errs...)
}

// stopRuns waits for in-flight workflow runs. When c expires first the runs
// are cancelled and given grace to record their interruption before the
// stores they write to are closed.
func stopRuns(wait func(context.Context) error, cancel context.CancelFunc, grace time.Duration) func(context.Context) error {
	return func(c context.Context) error {
		err := wait(c)
		cancel()
		if err == nil {
			return nil
		}
		gctx, gcancel := context.WithTimeout(context.Background(), grace)
		defer gcancel()
		if werr := wait(gctx); werr != nil {
			return errors.Join(err, fmt.Errorf("cancelled runs did not exit: %w", werr))
		}
		return err
	}
}
