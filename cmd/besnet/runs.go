package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/maruel/subcommands"

	"github.com/FlavioCFOliveira/besnet/internal/registry"
)

var cmdRuns = &subcommands.Command{
	UsageLine: "runs [flags] [model_name]",
	ShortDesc: "list recorded training runs",
	LongDesc:  "List the runs recorded by train, optionally only those of one model name.",
	CommandRun: func() subcommands.CommandRun {
		c := &runsRun{}
		c.runFlags.register(&c.Flags)
		return c
	},
}

type runsRun struct {
	subcommands.CommandRunBase
	runFlags
}

func (c *runsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args); err != nil {
		printError(a, err)
		return 1
	}
	return 0
}

func (c *runsRun) innerRun(a subcommands.Application, args []string) error {
	if len(args) > 1 {
		return usageError(a, "runs takes at most one model name")
	}
	cfg, err := c.load(&c.Flags)
	if err != nil {
		return err
	}
	if cfg.RunsFile == "" {
		return usageError(a, "no runs_file configured")
	}
	r, err := registry.Open(cfg.RunsFile)
	if err != nil {
		return err
	}
	defer r.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	entries, err := r.List(name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.GetOut(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tARCH\tFOLD\tBALANCED\tEPOCHS\tROC-AUC\tEPOCH\tLOSS\tFINISHED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%.4f\t%d\t%.4f\t%s\n",
			e.ModelName, e.Arch, e.Fold, e.Balanced, e.Epochs, e.BestScore, e.BestScoreEpoch, e.BestLoss,
			e.FinishedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
