// Command gtgstore inspects, repairs and mirrors a GTG data file.
package main

import (
	"os"

	"gtgstore/cmd/gtgstore/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
