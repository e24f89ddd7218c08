package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/maruel/subcommands"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/FlavioCFOliveira/besnet/internal/config"
	"github.com/FlavioCFOliveira/besnet/internal/data"
	"github.com/FlavioCFOliveira/besnet/internal/logging"
	"github.com/FlavioCFOliveira/besnet/internal/model"
)

// runFlags are the settings shared by commands that read a run config.
// Flags given on the command line override the config file.
type runFlags struct {
	configPath string

	dataFile     string
	arch         string
	modelDir     string
	modelName    string
	window       int
	lookAhead    int
	batchSize    int
	workers      int
	epochs       int
	learningRate float64
	kfold        bool
	folds        int
	fold         int
	balance      bool
	historyFile  string
	logFile      string
	logLevel     string
	seed         int64
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML run config; defaults are used when empty")
	fs.StringVar(&f.dataFile, "data", "", "CSV data file; synthetic events when empty")
	fs.StringVar(&f.arch, "arch", "", "model architecture; resets the model options to its defaults")
	fs.StringVar(&f.modelDir, "model-dir", "", "checkpoint directory")
	fs.StringVar(&f.modelName, "model-name", "", "checkpoint name prefix")
	fs.IntVar(&f.window, "window", 0, "signal window size")
	fs.IntVar(&f.lookAhead, "look-ahead", 0, "label look-ahead")
	fs.IntVar(&f.batchSize, "batch-size", 0, "mini-batch size")
	fs.IntVar(&f.workers, "workers", 0, "data and model workers")
	fs.IntVar(&f.epochs, "epochs", 0, "training epochs")
	fs.Float64Var(&f.learningRate, "lr", 0, "Adam learning rate")
	fs.BoolVar(&f.kfold, "kfold", false, "use k-fold cross validation")
	fs.IntVar(&f.folds, "folds", 0, "number of folds")
	fs.IntVar(&f.fold, "fold", 0, "fold index in [0, folds)")
	fs.BoolVar(&f.balance, "balance", false, "undersample negative training windows")
	fs.StringVar(&f.historyFile, "history", "", "epoch history CSV")
	fs.StringVar(&f.logFile, "log-file", "", "log file")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.Int64Var(&f.seed, "seed", 0, "random seed")
}

// load reads the config file and applies every flag set on fs.
func (f *runFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	var archErr error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "data":
			cfg.DataFile = f.dataFile
		case "arch":
			opts, err := model.Defaults(f.arch)
			if err != nil {
				archErr = err
				return
			}
			cfg.Arch, cfg.Model = f.arch, opts
		case "model-dir":
			cfg.ModelDir = f.modelDir
		case "model-name":
			cfg.ModelName = f.modelName
		case "window":
			cfg.SignalWindowSize = f.window
		case "look-ahead":
			cfg.LabelLookAhead = f.lookAhead
		case "batch-size":
			cfg.BatchSize = f.batchSize
		case "workers":
			cfg.NumWorkers = f.workers
		case "epochs":
			cfg.Epochs = f.epochs
		case "lr":
			cfg.LearningRate = f.learningRate
		case "kfold":
			cfg.KFold = f.kfold
		case "folds":
			cfg.Folds = f.folds
		case "fold":
			fold := f.fold
			cfg.Fold = &fold
		case "balance":
			cfg.BalanceClasses = f.balance
		case "history":
			cfg.HistoryFile = f.historyFile
		case "log-file":
			cfg.LogFile = f.logFile
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "seed":
			cfg.Seed = f.seed
		}
	})
	if archErr != nil {
		return nil, archErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	return logging.New(os.Stderr, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

// loadSplit reads the configured events and splits them by event.
func loadSplit(cfg *config.Config, logger log.FieldLogger) (data.Split, error) {
	var events []*data.Event
	var err error
	if cfg.DataFile == "" {
		logger.Infof("No data file given, generating %d synthetic events", cfg.Synthetic.Events)
		events, err = data.Synthetic(cfg.Synthetic)
	} else {
		events, err = data.LoadCSV(cfg.DataFile)
	}
	if err != nil {
		return data.Split{}, err
	}

	split, err := data.SplitEvents(events, data.SplitConfig{
		ValidFraction: cfg.ValidFraction,
		TestFraction:  cfg.TestFraction,
		Shuffle:       true,
		Seed:          cfg.Seed,
	})
	if err != nil {
		return data.Split{}, err
	}
	logger.Infof("Events: %d train, %d validation, %d test", len(split.Train), len(split.Valid), len(split.Test))
	return split, nil
}

// interruptContext is cancelled on SIGINT.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func printError(a subcommands.Application, err error) {
	fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
}

func usageError(a subcommands.Application, format string, args ...interface{}) error {
	return errors.Errorf(format+"; run '%s help' for usage", append(args, a.GetName())...)
}
