package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"statum.dev/statum/internal/declfile"
	"statum.dev/statum/internal/logging"
	"statum.dev/statum/internal/plan"
	"statum.dev/statum/internal/rollback"
	"statum.dev/statum/internal/snapshot"
)

// splitFlags separates repeated "--name value" pairs from positional
// arguments. Every command here needs at most one repeatable flag, so
// this stays a single pass rather than a general flag parser.
func splitFlags(args []string, flagName string) (positional, values []string) {
	for i := 0; i < len(args); i++ {
		if args[i] == flagName && i+1 < len(args) {
			values = append(values, args[i+1])
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	return positional, values
}

func cmdApply(args []string) int {
	positional, tags := splitFlags(args, "--tag")
	if len(positional) != 1 {
		printErr(fmt.Errorf("usage: statum apply <config> [--tag <name>]..."))
		return exitUserError
	}
	cfgPath := positional[0]

	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	ev, err := declfile.Load(cfgPath, declfile.HostFacts(), declfile.DefaultBindProviders(), declfile.DefaultBuildProviders())
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}

	res, err := e.orch.Apply(ctx, ev, cfgPath, tags)
	if err != nil {
		printErr(err)
		if res != nil {
			printActions(res.Plan.Actions)
			logActions(e.log, res.Plan.Actions)
		}
		if res != nil && res.RollbackInfo != nil {
			printRollbackInfo(res.RollbackInfo)
			if res.RolledBack {
				return exitApplyRolledBack
			}
			return exitApplyPartialRollback
		}
		return exitCodeForErr(err)
	}

	printActions(res.Plan.Actions)
	logActions(e.log, res.Plan.Actions)
	fmt.Printf("%s snapshot %s\n", styleSuccess("applied:"), res.SnapshotID)
	return exitOK
}

func cmdDestroy(args []string) int {
	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	res, err := e.orch.Destroy(ctx, declfile.HostFacts())
	if err != nil {
		printErr(err)
		if res != nil {
			printActions(res.Plan.Actions)
			logActions(e.log, res.Plan.Actions)
		}
		if res != nil && res.RollbackInfo != nil {
			printRollbackInfo(res.RollbackInfo)
			if res.RolledBack {
				return exitApplyRolledBack
			}
			return exitApplyPartialRollback
		}
		return exitCodeForErr(err)
	}

	printActions(res.Plan.Actions)
	logActions(e.log, res.Plan.Actions)
	fmt.Printf("%s snapshot %s\n", styleSuccess("destroyed:"), res.SnapshotID)
	return exitOK
}

func cmdStatus(args []string) int {
	if len(args) != 1 {
		printErr(fmt.Errorf("usage: statum status <config>"))
		return exitUserError
	}
	cfgPath := args[0]

	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	ev, err := declfile.Load(cfgPath, declfile.HostFacts(), declfile.DefaultBindProviders(), declfile.DefaultBuildProviders())
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}

	p, err := e.orch.Status(ctx, ev)
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}

	printDiff(p.Diff)
	printActions(p.Actions)
	return exitOK
}

func cmdDiff(args []string) int {
	if len(args) != 2 {
		printErr(fmt.Errorf("usage: statum diff <a> <b>"))
		return exitUserError
	}

	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	a, err := e.snapshots.Load(ctx, args[0])
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	b, err := e.snapshots.Load(ctx, args[1])
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}

	printDiff(plan.DiffManifests(a, b))
	return exitOK
}

func cmdRollback(args []string) int {
	if len(args) > 1 {
		printErr(fmt.Errorf("usage: statum rollback [id]"))
		return exitUserError
	}

	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	targetID := ""
	if len(args) == 1 {
		targetID = args[0]
	} else {
		id, err := predecessorOfCurrent(ctx, e.snapshots)
		if err != nil {
			printErr(err)
			return exitCodeForErr(err)
		}
		targetID = id
	}

	res, err := e.orch.Rollback.RollbackTo(ctx, targetID, rollbackProviders())
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	if len(res.Errors) > 0 {
		printRollbackInfo(res)
		return exitApplyPartialRollback
	}

	fmt.Printf("%s snapshot %s\n", styleSuccess("rolled back to:"), targetID)
	return exitOK
}

// predecessorOfCurrent returns the snapshot id immediately before the
// current one in storage order, for `rollback` invoked with no id.
func predecessorOfCurrent(ctx context.Context, snaps *snapshot.Store) (string, error) {
	currentID, hasCurrent, err := snaps.Current(ctx)
	if err != nil {
		return "", err
	}
	if !hasCurrent {
		return "", fmt.Errorf("rollback: no current snapshot to roll back from")
	}
	entries, err := snaps.List(ctx)
	if err != nil {
		return "", err
	}
	for i, e := range entries {
		if e.ID == currentID && i > 0 {
			return entries[i-1].ID, nil
		}
	}
	return "", fmt.Errorf("rollback: %s has no earlier snapshot to roll back to", currentID)
}

func cmdSnapshot(args []string) int {
	if len(args) == 0 {
		printErr(fmt.Errorf("usage: statum snapshot <list|show|delete|tag|untag> [args...]"))
		return exitUserError
	}

	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	switch strings.ToLower(args[0]) {
	case "list":
		return cmdSnapshotList(ctx, e)
	case "show":
		return cmdSnapshotShow(ctx, e, args[1:])
	case "delete", "rm":
		return cmdSnapshotDelete(ctx, e, args[1:])
	case "tag":
		return cmdSnapshotTag(ctx, e, args[1:])
	case "untag":
		return cmdSnapshotUntag(ctx, e, args[1:])
	default:
		printUnknown("snapshot " + args[0])
		return exitUserError
	}
}

func cmdSnapshotList(ctx context.Context, e *env) int {
	entries, err := e.snapshots.List(ctx)
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	currentID, hasCurrent, err := e.snapshots.Current(ctx)
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	for _, entry := range entries {
		marker := " "
		if hasCurrent && entry.ID == currentID {
			marker = "*"
		}
		fmt.Printf("%s %s  builds=%d binds=%d tags=%s\n",
			marker, entry.ID, entry.BuildCount, entry.BindCount, strings.Join(entry.Tags, ","))
	}
	return exitOK
}

func cmdSnapshotShow(ctx context.Context, e *env, args []string) int {
	if len(args) != 1 {
		printErr(fmt.Errorf("usage: statum snapshot show <id>"))
		return exitUserError
	}
	m, err := e.snapshots.Load(ctx, args[0])
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	for _, b := range m.Builds {
		fmt.Printf("build %s\n", b.Fingerprint.String())
	}
	for _, b := range m.Binds {
		fmt.Printf("bind %s %s provider=%s\n", b.ID, b.Fingerprint.Short(), b.Provider)
	}
	return exitOK
}

func cmdSnapshotDelete(ctx context.Context, e *env, args []string) int {
	if len(args) != 1 {
		printErr(fmt.Errorf("usage: statum snapshot delete <id>"))
		return exitUserError
	}
	if err := e.snapshots.Delete(ctx, args[0]); err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	fmt.Printf("%s %s\n", styleSuccess("deleted:"), args[0])
	return exitOK
}

func cmdSnapshotTag(ctx context.Context, e *env, args []string) int {
	if len(args) < 2 {
		printErr(fmt.Errorf("usage: statum snapshot tag <id> <tag>..."))
		return exitUserError
	}
	if err := e.snapshots.UpdateTags(ctx, args[0], args[1:]); err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	fmt.Printf("%s %s\n", styleSuccess("tagged:"), args[0])
	return exitOK
}

func cmdSnapshotUntag(ctx context.Context, e *env, args []string) int {
	if len(args) != 1 {
		printErr(fmt.Errorf("usage: statum snapshot untag <id>"))
		return exitUserError
	}
	if err := e.snapshots.UpdateTags(ctx, args[0], nil); err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	fmt.Printf("%s %s\n", styleSuccess("untagged:"), args[0])
	return exitOK
}

func cmdGC(args []string) int {
	e, code := newEnv()
	if e == nil {
		return code
	}
	ctx := context.Background()

	report, err := e.gc.Run(ctx)
	if err != nil {
		printErr(err)
		return exitCodeForErr(err)
	}
	fmt.Printf("%s objects=%d sources=%d binds=%d\n",
		styleSuccess("collected:"), len(report.RemovedObjects), len(report.RemovedSources), len(report.RemovedBinds))
	return exitOK
}

func printDiff(d *plan.Diff) {
	for _, b := range d.Builds {
		fmt.Printf("build %s %s\n", b.Fingerprint.Short(), b.Kind)
	}
	for _, b := range d.Binds {
		fmt.Printf("bind %s %s\n", b.ID, b.Kind)
	}
}

func printActions(actions []plan.Action) {
	for _, a := range actions {
		if a.Kind == plan.ActionRealizeBuild {
			fmt.Printf("%s %s\n", a.Kind, a.Fingerprint.Short())
			continue
		}
		fmt.Printf("%s %s %s\n", a.Kind, a.BindID, a.BindFingerprint.Short())
	}
}

func printRollbackInfo(r *rollback.Result) {
	if r.RestoredCurrent {
		fmt.Println(styleWarn("rollback: current pointer restored"))
	} else {
		fmt.Println(styleError("rollback: current pointer NOT restored"))
	}
	for _, a := range r.Unreversed {
		fmt.Printf("  %s unreversed: %s %s\n", styleError("!"), a.Kind, a.BindID)
	}
	for _, err := range r.Errors {
		fmt.Printf("  %s %v\n", styleDim("-"), err)
	}
}

// logActions emits one structured log line per applied action — the
// "every applied step logs a line with its node id and fingerprint
// prefix" requirement — after the fact, rather than threading a logger
// through internal/apply itself (apply.Orchestrator's action list is
// already exactly this information, in execution order).
func logActions(log *logrus.Logger, actions []plan.Action) {
	for _, a := range actions {
		id, fp := a.BindID, a.BindFingerprint
		if a.Kind == plan.ActionRealizeBuild {
			id, fp = "build", a.Fingerprint
		}
		logging.ForStep(log, id, fp.Short()).Info(string(a.Kind))
	}
}
