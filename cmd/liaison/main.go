package main

import (
	"fmt"
	"os"

	"github.com/liaison-ai/liaison/cmd/liaison/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
