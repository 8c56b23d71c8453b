// This program performs administrative tasks for the ledger: deriving keys,
// hashing values and signing operations.
package main

import (
	"os"

	"github.com/ardanlabs/opledger/app/tooling/admin/commands"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	if err := commands.NewRoot(build).Execute(); err != nil {
		os.Exit(1)
	}
}
