package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "hearthwork.ai/internal/persistence/log"
	"hearthwork.ai/internal/persistence/snapshot"
	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/scenario"
)

// replay restores a snapshot, runs the scenario on from it and checks that
// the events it emits match the ones the original run logged.
func main() {
	var (
		snapPath     = flag.String("snapshot", "", "path to .snap.zst")
		eventsDir    = flag.String("events", "", "events dir (default: <run dir>/events next to the snapshot)")
		configDir    = flag.String("configs", "./configs", "config directory")
		scenarioPath = flag.String("scenario", "./configs/scenarios/quarry.yaml", "scenario the run was started from")
		toStep       = flag.Uint64("to_step", 0, "stop verifying at this step (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.Read(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	dir := *eventsDir
	if dir == "" {
		// <run>/snapshots/<step>.snap.zst
		dir = filepath.Join(filepath.Dir(filepath.Dir(*snapPath)), "events")
	}
	from := snap.Header.Step

	var want []project.Event
	var last uint64
	err = persistlog.ReadEvents(dir, func(e persistlog.Entry) error {
		if e.RunID != snap.Header.RunID || e.Step <= from {
			return nil
		}
		if *toStep != 0 && e.Step > *toStep {
			return nil
		}
		want = append(want, e.Event)
		if e.Step > last {
			last = e.Step
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	if len(want) == 0 {
		fmt.Fprintf(os.Stderr, "no events after step %d for run %s in %s\n", from, snap.Header.RunID, dir)
		os.Exit(1)
	}
	// The last logged step may have been cut short when the run stopped.
	limit := last
	if *toStep != 0 {
		limit = *toStep + 1
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	cfg, err := scenario.Load(*scenarioPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load scenario:", err)
		os.Exit(1)
	}

	var got []project.Event
	sink := project.WithSink(project.SinkFunc(func(ev project.Event) {
		if ev.Step > from && ev.Step < limit {
			got = append(got, ev)
		}
	}))
	r, err := scenario.Build(cfg, cats, snap.Body.Tuning, nil, sink)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build scenario:", err)
		os.Exit(1)
	}
	rest, err := snapshot.Restore(snap, cats, r.Resolve, nil, sink)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	r.Adopt(rest.Ledger, rest.Timeline, rest.World, rest.Engine)
	if st := snap.Body.Scenario; st != nil {
		r.Import(*st)
	}

	for r.Engine.Now() < limit && !r.Done() {
		if err := r.Step(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "step:", err)
			os.Exit(1)
		}
	}

	checked, err := compare(want, got, limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d events over steps %d..%d (from snapshot step=%d)\n", checked, from+1, limit-1, from)
}

func compare(want, got []project.Event, limit uint64) (int, error) {
	n := 0
	for i, w := range want {
		if w.Step >= limit {
			break
		}
		if i >= len(got) {
			return n, fmt.Errorf("replay ended early at event %d: want %+v", i, w)
		}
		if got[i] != w {
			return n, fmt.Errorf("event %d at step %d differs:\n  logged   %+v\n  replayed %+v", i, w.Step, w, got[i])
		}
		n++
	}
	if n < len(got) {
		return n, fmt.Errorf("replay emitted more events than were logged, next: %+v", got[n])
	}
	return n, nil
}
