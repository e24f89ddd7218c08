// Package config holds the training run settings.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/FlavioCFOliveira/besnet/internal/data"
	"github.com/FlavioCFOliveira/besnet/internal/model"
)

// Config is a training run. Keys that are absent from a YAML file keep
// their defaults.
type Config struct {
	// DataFile is a CSV in the data.LoadCSV layout. Empty trains on
	// synthetic events generated from Synthetic.
	DataFile  string          `yaml:"data_file"`
	Synthetic data.SynthConfig `yaml:"synthetic"`

	SignalWindowSize int `yaml:"signal_window_size"`
	LabelLookAhead   int `yaml:"label_look_ahead"`
	BatchSize        int `yaml:"batch_size"`
	NumWorkers       int `yaml:"num_workers"`

	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	PosWeight    float64 `yaml:"pos_weight"`
	Epochs       int     `yaml:"epochs"`

	KFold          bool `yaml:"kfold"`
	Folds          int  `yaml:"folds"`
	Fold           *int `yaml:"fold"`
	BalanceClasses bool `yaml:"balance_classes"`

	ValidFraction float64 `yaml:"valid_fraction"`
	TestFraction  float64 `yaml:"test_fraction"`
	Seed          int64   `yaml:"seed"`

	// Arch selects the architecture; Model overrides its defaults.
	Arch  string        `yaml:"arch"`
	Model model.Options `yaml:"model"`

	ModelDir              string  `yaml:"model_dir"`
	ModelName             string  `yaml:"model_name"`
	SaveBestLoss          bool    `yaml:"save_best_loss"`
	EarlyStoppingPatience int     `yaml:"early_stopping_patience"`
	HistoryFile           string  `yaml:"history_file"`
	Threshold             float64 `yaml:"threshold"`

	TrainPrintEvery int    `yaml:"train_print_every"`
	ValidPrintEvery int    `yaml:"valid_print_every"`
	LogFile         string `yaml:"log_file"`
	LogLevel        string `yaml:"log_level"`
	LogMaxAgeDays   int    `yaml:"log_max_age_days"`

	// RunsFile is the run registry database. Empty disables recording.
	RunsFile string `yaml:"runs_file"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	opts, _ := model.Defaults(model.FeatureName)
	return &Config{
		Synthetic:        data.DefaultSynthConfig(),
		SignalWindowSize: 16,
		LabelLookAhead:   0,
		BatchSize:        64,
		NumWorkers:       4,
		LearningRate:     3e-4,
		WeightDecay:      5e-3,
		PosWeight:        13,
		Epochs:           10,
		Folds:            5,
		ValidFraction:    0.1,
		TestFraction:     0.1,
		Seed:             42,
		Arch:             model.FeatureName,
		Model:            opts,
		ModelDir:         "models",
		ModelName:        "feature_model",
		Threshold:        0.5,
		TrainPrintEvery:  5000,
		ValidPrintEvery:  2000,
		LogFile:          "output_logs.log",
		LogLevel:         "info",
		RunsFile:         "models/runs.db",
	}
}

// Load reads a YAML config file over the defaults. The model section is
// applied over the defaults of the selected architecture.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Parse decodes YAML config contents over the defaults.
func Parse(b []byte) (*Config, error) {
	var head struct {
		Arch string `yaml:"arch"`
	}
	if err := yaml.Unmarshal(b, &head); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	c := Default()
	if head.Arch != "" && head.Arch != c.Arch {
		opts, err := model.Defaults(head.Arch)
		if err != nil {
			return nil, err
		}
		c.Arch, c.Model = head.Arch, opts
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return c, nil
}

// ModelOptions returns the architecture options for this run. The look-back
// always matches the signal window and the seed follows the run seed unless
// the model section sets one.
func (c *Config) ModelOptions() model.Options {
	o := c.Model
	o.CNNLayers = append([]int(nil), o.CNNLayers...)
	o.DenseLayers = append([]int(nil), o.DenseLayers...)
	o.LookBack = c.SignalWindowSize
	if o.Seed == 0 {
		o.Seed = c.Seed
	}
	return o
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, errors.Errorf(format, args...).Error())
		}
	}

	check(c.SignalWindowSize > 0, "signal_window_size must be positive, got %d", c.SignalWindowSize)
	check(c.LabelLookAhead >= 0, "label_look_ahead must not be negative, got %d", c.LabelLookAhead)
	check(c.BatchSize > 0, "batch_size must be positive, got %d", c.BatchSize)
	check(c.NumWorkers >= 0, "num_workers must not be negative, got %d", c.NumWorkers)
	check(c.LearningRate > 0, "learning_rate must be positive, got %v", c.LearningRate)
	check(c.WeightDecay >= 0, "weight_decay must not be negative, got %v", c.WeightDecay)
	check(c.PosWeight > 0, "pos_weight must be positive, got %v", c.PosWeight)
	check(c.Epochs > 0, "epochs must be positive, got %d", c.Epochs)
	check(c.Folds >= 2 || !c.KFold, "folds must be at least 2 with kfold, got %d", c.Folds)
	if c.KFold && c.Fold != nil {
		check(*c.Fold >= 0 && *c.Fold < c.Folds, "fold must be in [0, %d), got %d", c.Folds, *c.Fold)
	}
	check(c.ValidFraction >= 0 && c.TestFraction >= 0 && c.ValidFraction+c.TestFraction < 1,
		"valid_fraction + test_fraction must be in [0, 1), got %v + %v", c.ValidFraction, c.TestFraction)
	check(c.ModelName != "", "model_name must be set")
	check(c.EarlyStoppingPatience >= 0, "early_stopping_patience must not be negative, got %d", c.EarlyStoppingPatience)
	check(c.Threshold > 0 && c.Threshold < 1, "threshold must be in (0, 1), got %v", c.Threshold)
	check(c.TrainPrintEvery >= 0 && c.ValidPrintEvery >= 0, "print intervals must not be negative")
	check(c.LogMaxAgeDays >= 0, "log_max_age_days must not be negative, got %d", c.LogMaxAgeDays)
	if _, err := model.Defaults(c.Arch); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
