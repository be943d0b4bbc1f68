package main

import (
	"os"

	"piggybank/cmd/piggybank/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
