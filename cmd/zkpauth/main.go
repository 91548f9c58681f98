package main

import (
	"os"

	"zkpauth/cmd/zkpauth/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
