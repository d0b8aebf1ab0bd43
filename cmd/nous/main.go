package main

import (
	"fmt"
	"os"

	"github.com/nousos/nous/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Restart on binary change during development.
	if os.Getenv("NOUS_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nous:", err)
		os.Exit(1)
	}
}
