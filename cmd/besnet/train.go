package main

import (
	"time"

	"github.com/maruel/subcommands"
	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/besnet/internal/registry"
	"github.com/FlavioCFOliveira/besnet/internal/train"
)

var cmdTrain = &subcommands.Command{
	UsageLine: "train [flags]",
	ShortDesc: "train a model and checkpoint the best validation ROC-AUC",
	LongDesc: `Train a model on windowed BES events.

Events are read from -data (or generated when no data file is set) and split
by event into train, validation and test sets. The model with the best
validation ROC-AUC is saved to -model-dir.

With -kfold, -fold selects one fold; -all-folds trains every fold in turn.`,
	CommandRun: func() subcommands.CommandRun {
		c := &trainRun{}
		c.runFlags.register(&c.Flags)
		c.Flags.BoolVar(&c.allFolds, "all-folds", false, "with -kfold, train every fold")
		c.Flags.BoolVar(&c.quiet, "quiet", false, "do not log the model summary")
		return c
	},
}

type trainRun struct {
	subcommands.CommandRunBase
	runFlags
	allFolds bool
	quiet    bool
}

func (c *trainRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args); err != nil {
		printError(a, err)
		return 1
	}
	return 0
}

func (c *trainRun) innerRun(a subcommands.Application, args []string) error {
	if len(args) != 0 {
		return usageError(a, "train takes no arguments")
	}
	cfg, err := c.load(&c.Flags)
	if err != nil {
		return err
	}
	if c.allFolds && !cfg.KFold {
		return usageError(a, "-all-folds requires -kfold")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	split, err := loadSplit(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	folds := []*int{cfg.Fold}
	if c.allFolds {
		folds = folds[:0]
		for i := 0; i < cfg.Folds; i++ {
			i := i
			folds = append(folds, &i)
		}
	}

	var runs *registry.Registry
	if cfg.RunsFile != "" {
		if runs, err = registry.Open(cfg.RunsFile); err != nil {
			return err
		}
		defer runs.Close()
	}

	var scores []float64
	for _, fold := range folds {
		run := *cfg
		run.Fold = fold
		res, err := train.Loop(ctx, &run, split, logger, train.LoopOptions{Describe: !c.quiet})
		if err != nil {
			return err
		}
		logger.WithField("fold", res.Fold).Infof("Best ROC-AUC %.4f at epoch %d, best validation loss %.4f at epoch %d, checkpoint %s",
			res.BestScore, res.BestScoreEpoch, res.BestLoss, res.BestLossEpoch, res.Checkpoint)
		scores = append(scores, res.BestScore)

		if runs != nil {
			err := runs.Record(registry.Entry{
				ModelName:      cfg.ModelName,
				Arch:           cfg.Arch,
				Fold:           res.Fold,
				Balanced:       cfg.BalanceClasses,
				Epochs:         len(res.History),
				BestScore:      res.BestScore,
				BestScoreEpoch: res.BestScoreEpoch,
				BestLoss:       res.BestLoss,
				BestLossEpoch:  res.BestLossEpoch,
				Checkpoint:     res.Checkpoint,
				FinishedAt:     time.Now(),
			})
			if err != nil {
				return err
			}
		}
	}
	if len(scores) > 1 {
		mean, std := stat.MeanStdDev(scores, nil)
		logger.Infof("Cross validation ROC-AUC: %.4f +/- %.4f over %d folds", mean, std, len(scores))
	}
	return nil
}

