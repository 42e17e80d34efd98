// Command statum is the CLI entry point for the reconciliation engine:
// apply/destroy/status/diff/rollback/snapshot/gc, dispatched directly over
// os.Args with no cobra/flag framework.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}
