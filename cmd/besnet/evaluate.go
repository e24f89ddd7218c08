package main

import (
	"fmt"

	"github.com/maruel/subcommands"

	"github.com/FlavioCFOliveira/besnet/internal/checkpoint"
	"github.com/FlavioCFOliveira/besnet/internal/metrics"
	"github.com/FlavioCFOliveira/besnet/internal/train"
)

var cmdEvaluate = &subcommands.Command{
	UsageLine: "evaluate [flags] <checkpoint>",
	ShortDesc: "score a checkpoint on the test events",
	LongDesc: `Score a saved checkpoint on the test split of the configured events.

The split uses the same seed and fractions as training, so the test events
are the ones held out during training. The signal window is taken from the
checkpoint.`,
	CommandRun: func() subcommands.CommandRun {
		c := &evaluateRun{}
		c.runFlags.register(&c.Flags)
		return c
	},
}

type evaluateRun struct {
	subcommands.CommandRunBase
	runFlags
}

func (c *evaluateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args); err != nil {
		printError(a, err)
		return 1
	}
	return 0
}

func (c *evaluateRun) innerRun(a subcommands.Application, args []string) error {
	if len(args) != 1 {
		return usageError(a, "evaluate takes exactly one checkpoint")
	}
	cfg, err := c.load(&c.Flags)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ckpt, err := checkpoint.Load(args[0])
	if err != nil {
		return err
	}
	m, err := checkpoint.Restore(ckpt)
	if err != nil {
		return err
	}
	cfg.SignalWindowSize = ckpt.Options.LookBack
	logger.Infof("Loaded %s (%s, fold %s, epoch %d, validation ROC-AUC %.4f)",
		ckpt.ModelName, ckpt.Arch, ckpt.Fold, ckpt.Epoch, ckpt.Score)

	split, err := loadSplit(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext()
	defer cancel()

	ev, score, err := train.Score(ctx, cfg, m, ckpt.Options.UseSigmoid, split.Test, logger)
	if err != nil {
		return err
	}
	conf, err := metrics.NewConfusion(ev.Labels, ev.Preds, cfg.Threshold)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.GetOut(), "windows: %d\nloss: %.4f\nroc_auc: %.4f\n%s\n", len(ev.Labels), ev.Loss, score, conf)
	return nil
}
