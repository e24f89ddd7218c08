// Command besnet trains and inspects BES event detection models.
package main

import (
	"os"

	"github.com/maruel/subcommands"
)

var application = &subcommands.DefaultApplication{
	Name:  "besnet",
	Title: "Train binary event classifiers on 8x8 BES signal windows.",
	Commands: []*subcommands.Command{
		cmdTrain,
		cmdEvaluate,
		cmdDescribe,
		cmdSynth,
		cmdRuns,
		subcommands.CmdHelp,
	},
}

func main() {
	os.Exit(subcommands.Run(application, nil))
}
