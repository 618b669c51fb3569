package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "gojvmti",
	Short: "Bytecode interpreter with an in-process instrumentation agent interface",
	Long: `gojvmti executes Java class files on a small interpreter that exposes
a tool interface to instrumentation agents: an exception annotator that
rewrites empty NullPointerException messages, an event tracer, a clock
shifter, and a heap allocation sampler.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
}
