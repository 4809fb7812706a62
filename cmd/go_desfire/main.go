package main

import (
	"os"

	"github.com/andrei-cloud/go_desfire/cmd/go_desfire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
