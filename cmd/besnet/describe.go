package main

import (
	"fmt"

	"github.com/maruel/subcommands"

	"github.com/FlavioCFOliveira/besnet/internal/model"
)

var cmdDescribe = &subcommands.Command{
	UsageLine: "describe [flags] [arch...]",
	ShortDesc: "print model summaries",
	LongDesc: `Print the layer table of each named architecture, or of every
registered architecture when none is named.`,
	CommandRun: func() subcommands.CommandRun {
		c := &describeRun{}
		c.Flags.IntVar(&c.window, "window", 0, "signal window size; the architecture default when 0")
		c.Flags.BoolVar(&c.sigmoid, "sigmoid", false, "end in a sigmoid instead of a logit")
		return c
	},
}

type describeRun struct {
	subcommands.CommandRunBase
	window  int
	sigmoid bool
}

func (c *describeRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args); err != nil {
		printError(a, err)
		return 1
	}
	return 0
}

func (c *describeRun) innerRun(a subcommands.Application, args []string) error {
	if len(args) == 0 {
		args = model.Names()
	}
	for i, name := range args {
		opts, err := model.Defaults(name)
		if err != nil {
			return err
		}
		if c.window > 0 {
			opts.LookBack = c.window
		}
		opts.UseSigmoid = c.sigmoid
		if i > 0 {
			fmt.Fprintln(a.GetOut())
		}
		if _, err := model.Describe(a.GetOut(), name, opts); err != nil {
			return err
		}
	}
	return nil
}
