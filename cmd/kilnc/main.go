// Command kilnc is the kiln compiler CLI.
//
// Usage:
//
//	kilnc <command> [options] <input>
//
// Examples:
//
//	kilnc validate blur.kir                  # Parse and validate
//	kilnc compile -b c -o out blur.kir       # Compile to C
//	kilnc compile --cache .kiln.db blur.kir  # Compile with the artifact cache
//	kilnc run blur.kir -f blur -a out=16x16  # Interpret the native output
//	kilnc disasm out/blur.kbin               # Print a native module
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
