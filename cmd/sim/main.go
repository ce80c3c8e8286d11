package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"hearthwork.ai/internal/persistence/indexdb"
	persistlog "hearthwork.ai/internal/persistence/log"
	"hearthwork.ai/internal/persistence/snapshot"
	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/ids"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/scenario"
	"hearthwork.ai/internal/sim/tuning"
	"hearthwork.ai/internal/transport/observer"
)

func main() {
	var (
		configDir    = flag.String("configs", "./configs", "config directory")
		scenarioPath = flag.String("scenario", "./configs/scenarios/quarry.yaml", "scenario file")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		steps        = flag.Int("steps", 0, "stop at this step (default: the scenario's steps)")
		stepHz       = flag.Int("step_hz", 0, "steps per second (0 runs as fast as possible)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite index")
		verbose      = flag.Bool("v", false, "log engine and scenario detail")

		resumePath = flag.String("resume", "", "snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "with -run, resume from its latest snapshot")
		runFlag    = flag.String("run", "", "run id (default: new uuid, or the snapshot's)")

		observerAddr = flag.String("observer", "", "observer listen address, e.g. 127.0.0.1:8091 (empty to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sim] ", log.LstdFlags|log.Lmicroseconds)
	var detail *log.Logger
	if *verbose {
		detail = logger
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	cfg, err := scenario.Load(*scenarioPath)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	runID := strings.TrimSpace(*runFlag)
	snapToLoad := strings.TrimSpace(*resumePath)
	if snapToLoad == "" && *loadLatest && runID != "" {
		snapToLoad = latestSnapshot(filepath.Join(*dataDir, "runs", runID))
	}
	var snap *snapshot.Snapshot
	if snapToLoad != "" {
		s, err := snapshot.Read(snapToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if runID != "" && s.Header.RunID != "" && s.Header.RunID != runID {
			logger.Fatalf("snapshot run id mismatch: flag=%s snap=%s", runID, s.Header.RunID)
		}
		if runID == "" {
			runID = s.Header.RunID
		}
		// The snapshot carries the tuning it ran with.
		tune = s.Body.Tuning
		snap = &s
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	runDir := filepath.Join(*dataDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("run dir: %v", err)
	}

	events := persistlog.NewEventLog(runDir, runID, logger)
	defer events.Close()
	counts := map[project.EventKind]int{}
	sinks := project.Sinks{events, project.SinkFunc(func(ev project.Event) { counts[ev.Kind]++ })}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index.sqlite"), runID)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
		sinks = append(sinks, idx)
	}

	var obs *observer.Server
	if addr := strings.TrimSpace(*observerAddr); addr != "" {
		obs = observer.NewServer(runID, logger)
		sinks = append(sinks, obs)
	}

	opts := []project.Option{project.WithSink(sinks), project.WithLogger(detail)}
	r, err := scenario.Build(cfg, cats, tune, detail, opts...)
	if err != nil {
		logger.Fatalf("build scenario: %v", err)
	}
	if snap != nil {
		rest, err := snapshot.Restore(*snap, cats, r.Resolve, nil, opts...)
		if err != nil {
			logger.Fatalf("restore: %v", err)
		}
		r.Adopt(rest.Ledger, rest.Timeline, rest.World, rest.Engine)
		if st := snap.Body.Scenario; st != nil {
			r.Import(*st)
		}
		logger.Printf("resumed from snapshot=%s step=%d", filepath.Base(snapToLoad), r.Engine.Now())
	}

	ctx, cancel := signalContext()
	defer cancel()

	if obs != nil {
		srv := &http.Server{
			Addr:              *observerAddr,
			Handler:           obs.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("observer listening on %s", *observerAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("observer: %v", err)
			}
		}()
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
	}

	snaps := newSnapshotWriter(filepath.Join(runDir, "snapshots"), idx, logger)

	end := uint64(cfg.Steps)
	if *steps > 0 {
		end = uint64(*steps)
	}
	var ticks <-chan time.Time
	if *stepHz > 0 {
		t := time.NewTicker(time.Second / time.Duration(*stepHz))
		defer t.Stop()
		ticks = t.C
	}

	logger.Printf("run=%s scenario=%s from step %d to %d", runID, cfg.Name, r.Engine.Now(), end)
	every := tune.SnapshotEverySteps
	lastSnap := r.Engine.Now()
	started := time.Now()
loop:
	for r.Engine.Now() < end && !r.Done() {
		if ticks != nil {
			select {
			case <-ctx.Done():
				break loop
			case <-ticks:
			}
		} else if ctx.Err() != nil {
			break
		}
		if err := r.Step(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Printf("step %d: %v", r.Engine.Now(), err)
			}
			break
		}
		if now := r.Engine.Now(); every > 0 && now%every == 0 {
			snaps.Submit(capture(runID, r, cats))
			lastSnap = now
		}
	}
	if r.Engine.Now() != lastSnap {
		snaps.Submit(capture(runID, r, cats))
	}
	snaps.Close()
	if err := events.Flush(); err != nil {
		logger.Printf("event log flush: %v", err)
	}

	logger.Printf("stopped at step %d after %s (done=%v)", r.Engine.Now(), time.Since(started).Round(time.Millisecond), r.Done())
	report(logger, r, counts)
	if n := events.Failures(); n > 0 {
		logger.Printf("event log: %d write failures", n)
	}
	if idx != nil {
		reportIndex(logger, idx)
	}
}

func report(logger *log.Logger, r *scenario.Runner, counts map[project.EventKind]int) {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		logger.Printf("events %-16s %d", k, counts[project.EventKind(k)])
	}
	for _, s := range r.Summaries() {
		logger.Printf("actor %s: completed=%d resets=%d refusals=%d cancelled=%d",
			model.ActorRef(s.Actor), s.Completed, s.Resets, s.Refusals, s.Cancelled)
	}
	for _, p := range r.Engine.Projects() {
		pct, _ := r.Engine.PercentComplete(p.ID)
		logger.Printf("still running: %s %s phase=%s %d%%", ids.Format(ids.PrefixProject, uint64(p.ID)), p.Kind, p.Phase(), pct)
	}
}

func reportIndex(logger *log.Logger, idx *indexdb.SQLiteIndex) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		logger.Printf("index sync: %v", err)
		return
	}
	rows, err := idx.Projects(ctx)
	if err != nil {
		logger.Printf("index projects: %v", err)
		return
	}
	for _, p := range rows {
		ended := "-"
		if p.Ended {
			ended = strconv.FormatUint(p.EndedStep, 10)
		}
		logger.Printf("project %s %s phase=%s steps=%d..%s workers=%d hauls=%d/%d/%d resets=%d delays=%d",
			p.Project, p.Kind, p.Phase, p.CreatedStep, ended, p.WorkersJoined,
			p.HaulsStarted, p.HaulsDelivered, p.HaulsCancelled, p.Resets, p.Delays)
	}
	if n := idx.Dropped(); n > 0 {
		logger.Printf("index: dropped %d events", n)
	}
}

func capture(runID string, r *scenario.Runner, cats *catalogs.Catalogs) snapshot.Snapshot {
	s := snapshot.Capture(runID, r.Engine, r.World, cats)
	st := r.Export()
	s.Body.Scenario = &st
	return s
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
