// The main package for the pricewise executable.
package main

import (
	"github.com/JakeFAU/pricewise/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
