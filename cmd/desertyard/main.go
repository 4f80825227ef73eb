package main

import (
	"fmt"
	"os"

	"github.com/dreschagin/desertyard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "desertyard: %v\n", err)
		os.Exit(1)
	}
}
