package main

import "sync"

// exit codes, spec.md §6.
const (
	exitOK                   = 0
	exitApplyRolledBack      = 1
	exitApplyPartialRollback = 2
	exitUserError            = 3
	exitLockContention       = 4
)

type commandHandler func(args []string) int

var (
	commandsMu sync.Mutex
	commands   map[string]commandHandler
)

// commandRegistry builds the command table once, lazily, behind a mutex
// (no per-handler loader closures are warranted when every handler is
// already cheap to build).
func commandRegistry() map[string]commandHandler {
	commandsMu.Lock()
	defer commandsMu.Unlock()
	if commands == nil {
		commands = buildCommands()
	}
	return commands
}

func buildCommands() map[string]commandHandler {
	cmds := make(map[string]commandHandler, 16)
	register := func(h commandHandler, names ...string) {
		for _, n := range names {
			cmds[n] = h
		}
	}

	register(cmdApply, "apply")
	register(cmdDestroy, "destroy")
	register(cmdStatus, "status")
	register(cmdDiff, "diff")
	register(cmdRollback, "rollback")
	register(cmdSnapshot, "snapshot", "snap")
	register(cmdGC, "gc")
	register(func(_ []string) int { printVersion(); return exitOK }, "version", "--version", "-v")
	register(func(_ []string) int { usage(); return exitOK }, "help", "-h", "--help")

	return cmds
}

func resetCommandRegistryForTest() {
	commandsMu.Lock()
	commands = nil
	commandsMu.Unlock()
}

// run is the process entry point; it exists only to give main something
// to hand os.Exit, so dispatch itself stays unit-testable without ever
// calling os.Exit (SPEC_FULL.md §4.14).
func run(args []string) int {
	return dispatch(args)
}

func dispatch(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUserError
	}
	cmd, rest := args[0], args[1:]
	handler, ok := commandRegistry()[cmd]
	if !ok {
		printUnknown(cmd)
		usage()
		return exitUserError
	}
	return handler(rest)
}
