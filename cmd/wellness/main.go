// Command wellness runs the family wellness chat assistant.
package main

import (
	"os"

	"github.com/ashureev/wellness/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
