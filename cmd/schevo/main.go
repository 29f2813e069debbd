package main

import (
	"fmt"
	"os"

	// register all backends with the storage factory.
	_ "schevo/internal/storage/all"
)

// main is the entry point for the schevo binary.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
