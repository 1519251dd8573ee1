package main

import (
	"fmt"
	"os"

	"github.com/codefionn/meetvault/internal/logger"
)

func main() {
	err := newRootCmd().Execute()
	if closeErr := logger.Global().Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
