package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const statumVersion = "v0.1.0"

func printVersion() {
	fmt.Println(statumVersion)
}

func usage() {
	fmt.Print(`statum <command> [args]

Declarative reconciliation for host state: content-addressed builds plus
stateful binds, applied and rolled back as one unit.

Commands:
  statum apply <config> [--tag <name>]...   evaluate, plan, execute; write a snapshot
  statum destroy                            reverse every bind in the current snapshot
  statum status <config>                    show the plan without applying it
  statum diff <a> <b>                       compare two stored snapshots
  statum rollback [id]                      restore a prior snapshot (defaults to its predecessor)
  statum snapshot list                      list every stored snapshot
  statum snapshot show <id>                 print one snapshot's manifest
  statum snapshot delete <id>               delete a non-current snapshot
  statum snapshot tag <id> <tag>...         replace a snapshot's tag set
  statum gc                                 reclaim unreferenced store objects
  statum version                            print the version
  statum help                               print this message

Exit codes: 0 success, 1 apply failure (rollback restored prior state),
2 apply failure with partial rollback, 3 user error, 4 store-lock contention.
`)
}

func printUnknown(cmd string) {
	fmt.Fprintf(os.Stderr, "%s command: %s\n", styleError("unknown"), styleCmd(cmd))
}

var ansiEnabled = initAnsiEnabled()

// initAnsiEnabled gates color on NO_COLOR/TERM=dumb/a force-color override/
// IsTerminal (config.Load already wires STATUM_NO_COLOR into Config.NoColor;
// this covers invocations before a Config exists, e.g. usage/version output).
func initAnsiEnabled() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" || strings.TrimSpace(os.Getenv("STATUM_NO_COLOR")) != "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	if force := strings.TrimSpace(os.Getenv("STATUM_COLOR")); force != "" {
		return force == "1" || strings.EqualFold(force, "true")
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func ansi(codes ...string) string { return "\x1b[" + strings.Join(codes, ";") + "m" }

func colorize(s string, codes ...string) string {
	if !ansiEnabled || s == "" {
		return s
	}
	return ansi(codes...) + s + ansi("0")
}

func styleCmd(s string) string     { return colorize(s, "1", "32") }
func styleSuccess(s string) string { return colorize(s, "32") }
func styleWarn(s string) string    { return colorize(s, "33") }
func styleError(s string) string   { return colorize(s, "31") }
func styleDim(s string) string     { return colorize(s, "90") }

func printErr(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", styleError("error:"), err)
}
