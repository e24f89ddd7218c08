package main

import (
	"os"

	"github.com/maruel/subcommands"
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/besnet/internal/data"
)

var cmdSynth = &subcommands.Command{
	UsageLine: "synth [flags] <out.csv>",
	ShortDesc: "write a synthetic data set",
	LongDesc: `Write synthetic BES events in the CSV layout read by train: background
noise until a random onset, then a growing burst labelled 1.`,
	CommandRun: func() subcommands.CommandRun {
		c := &synthRun{cfg: data.DefaultSynthConfig()}
		c.Flags.IntVar(&c.cfg.Events, "events", c.cfg.Events, "number of events")
		c.Flags.IntVar(&c.cfg.Length, "length", c.cfg.Length, "time steps per event")
		c.Flags.Float64Var(&c.cfg.Noise, "noise", c.cfg.Noise, "background noise standard deviation")
		c.Flags.Float64Var(&c.cfg.Growth, "growth", c.cfg.Growth, "burst growth per step")
		c.Flags.Int64Var(&c.cfg.Seed, "seed", c.cfg.Seed, "random seed")
		return c
	},
}

type synthRun struct {
	subcommands.CommandRunBase
	cfg data.SynthConfig
}

func (c *synthRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args); err != nil {
		printError(a, err)
		return 1
	}
	return 0
}

func (c *synthRun) innerRun(a subcommands.Application, args []string) error {
	if len(args) != 1 {
		return usageError(a, "synth takes exactly one output file")
	}
	events, err := data.Synthetic(c.cfg)
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := data.WriteCSV(f, events); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close output")
}
