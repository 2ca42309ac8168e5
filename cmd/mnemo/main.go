package main

import (
	"os"

	"github.com/BJS-Innovation-Lab/mnemo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
