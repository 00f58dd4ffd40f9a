/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/consolidation"
	"github.com/hoopsight/propcore/pkg/healing"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/operator"
	"github.com/hoopsight/propcore/pkg/operator/options"
)

const (
	exitSuccess     = 0
	exitRecoverable = 1
	exitCritical    = 2
)

var modes = []prediction.BatchMode{
	prediction.BatchModeFirst,
	prediction.BatchModeRetry,
	prediction.BatchModeFinalRetry,
	prediction.BatchModeLastCall,
	prediction.BatchModeBackfill,
	prediction.BatchModeCheckLines,
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return exitCritical
	}
	subcommand := os.Args[1]

	opts := options.New()
	gameDate := opts.String("game-date", time.Now().Format("2006-01-02"), "The game date to operate on, YYYY-MM-DD")
	mode := opts.String("mode", string(prediction.BatchModeFirst), "Batch mode: FIRST, RETRY, FINAL_RETRY, LAST_CALL, BACKFILL or CHECK_LINES")
	batchID := opts.String("batch-id", "", "Consolidate only this batch's staging tables; empty consolidates them all")
	dryRun := opts.Bool("dry-run", false, "Report gaps without re-grading them")
	opts.MustParse()

	logger, err := logging.NewLogger(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCritical
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(logging.WithLogger(context.Background(), logger), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	date, err := prediction.ParseGameDate(*gameDate)
	if err != nil {
		logger.Errorf("invalid game date %q, %s", *gameDate, err)
		return exitCritical
	}
	batchMode := prediction.BatchMode(*mode)
	if !lo.Contains(modes, batchMode) {
		logger.Errorf("invalid mode %q, expected one of %v", *mode, modes)
		return exitCritical
	}

	op, err := operator.NewOperator(ctx, opts)
	if err != nil {
		logger.Errorf("wiring failed, %s", err)
		return exitCritical
	}
	defer op.Close()

	switch subcommand {
	case "start-batch":
		return startBatch(ctx, op, date, batchMode)
	case "consolidate":
		return consolidate(ctx, op, *batchID, date)
	case "grade":
		return grade(ctx, op, date)
	case "detect-gaps":
		return detectGaps(ctx, op, *dryRun)
	case "cleanup-stalled":
		return cleanupStalled(ctx, op)
	case "daemon":
		return daemon(ctx, op)
	default:
		usage()
		return exitCritical
	}
}

func startBatch(ctx context.Context, op *operator.Operator, date prediction.GameDate, mode prediction.BatchMode) int {
	result, err := op.Coordinator.StartBatch(ctx, date, mode)
	if err != nil {
		logging.FromContext(ctx).Errorf("batch failed, %s", err)
		return exitRecoverable
	}
	if result.Status == prediction.StatusFailure {
		return exitRecoverable
	}
	return exitSuccess
}

func consolidate(ctx context.Context, op *operator.Operator, batchID string, date prediction.GameDate) int {
	result, err := op.Consolidator.Consolidate(ctx, batchID, date)
	if err != nil {
		logging.FromContext(ctx).Errorf("consolidation failed, %s", err)
		return exitRecoverable
	}
	if !result.Success() {
		return exitRecoverable
	}
	return exitSuccess
}

func grade(ctx context.Context, op *operator.Operator, date prediction.GameDate) int {
	result, err := op.Grader.GradeDate(ctx, date)
	if err != nil {
		logging.FromContext(ctx).Errorf("grading failed, %s", err)
		return exitRecoverable
	}
	if result.Status == prediction.StatusFailure {
		return exitRecoverable
	}
	return exitSuccess
}

func detectGaps(ctx context.Context, op *operator.Operator, dryRun bool) int {
	log := logging.FromContext(ctx)
	lookback := op.Options.LookbackDays
	heal := op.Gaps.Heal
	if dryRun {
		heal = op.Gaps.DetectGaps
	}
	gaps, err := heal(ctx, lookback)
	if err != nil {
		log.Errorf("gap detection failed, %s", err)
		return exitRecoverable
	}
	for _, gap := range gaps {
		log.With("game-date", gap.GameDate.String(), "graded", gap.Graded, "gradable", gap.Gradable).
			Infof("grading gap %s", gap.Status)
	}
	return exitSuccess
}

func cleanupStalled(ctx context.Context, op *operator.Operator) int {
	completed, err := op.BatchHealer.CleanupStalled(ctx)
	if err != nil {
		logging.FromContext(ctx).Errorf("stalled-batch cleanup failed, %s", err)
		return exitRecoverable
	}
	logging.FromContext(ctx).Infof("force-completed %d stalled batches", len(completed))
	return exitSuccess
}

// daemon runs the recurring maintenance: stalled-batch cleanup, the orphan
// staging sweep, and nightly gap healing, with metrics exposed throughout.
func daemon(ctx context.Context, op *operator.Operator) int {
	log := logging.FromContext(ctx)
	go op.ServeMetrics(ctx)

	schedule := cron.New()
	register := func(spec, name string, job func()) bool {
		if _, err := schedule.AddFunc(spec, job); err != nil {
			log.Errorf("registering %s, %s", name, err)
			return false
		}
		return true
	}
	ok := register("*/15 * * * *", "stalled-batch cleanup", func() {
		if _, err := op.BatchHealer.CleanupStalled(ctx); err != nil {
			log.Errorf("stalled-batch cleanup failed, %s", err)
		}
	})
	ok = ok && register("15 * * * *", "orphan staging sweep", func() {
		if _, err := healing.SweepOrphans(ctx, op.Consolidator, op.Tracker, consolidation.DefaultOrphanAge); err != nil {
			log.Errorf("orphan sweep failed, %s", err)
		}
	})
	ok = ok && register("30 6 * * *", "gap healing", func() {
		if _, err := op.Gaps.Heal(ctx, op.Options.LookbackDays); err != nil {
			log.Errorf("gap healing failed, %s", err)
		}
	})
	if !ok {
		return exitCritical
	}

	schedule.Start()
	log.Infof("daemon started")
	<-ctx.Done()
	<-schedule.Stop().Done()
	log.Infof("daemon stopped")
	return exitSuccess
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: controller <subcommand> [flags]

subcommands:
  start-batch      run one prediction batch for a date
  consolidate      merge staging tables into the main predictions table
  grade            grade a date's predictions against box scores
  detect-gaps      find (and unless --dry-run, re-grade) under-graded dates
  cleanup-stalled  force-complete stalled batches
  daemon           run recurring maintenance on a schedule
`)
}
