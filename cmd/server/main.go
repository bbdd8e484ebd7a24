// Package main is the entry point of the member site.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (built: %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
