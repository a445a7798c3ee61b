package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dendrite",
		Short: "dendrite - locally-learning convolutional circuits",
		Long: `dendrite simulates biologically-inspired computational circuits whose
convolutional synapses adapt through local Hebbian-style learning rules
instead of global backpropagation.`,
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level: info or debug (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dendrite version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
