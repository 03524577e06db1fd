// The main package for the sliver executable.
package main

import (
	"github.com/sliver-archive/sliver/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
