package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hearthwork.ai/internal/persistence/indexdb"
	"hearthwork.ai/internal/persistence/snapshot"
)

// snapshotWriter writes captured snapshots off the simulation goroutine
// and records each one in the index.
type snapshotWriter struct {
	dir    string
	idx    *indexdb.SQLiteIndex
	logger *log.Logger

	ch   chan snapshot.Snapshot
	done chan struct{}
}

func newSnapshotWriter(dir string, idx *indexdb.SQLiteIndex, logger *log.Logger) *snapshotWriter {
	w := &snapshotWriter{
		dir:    dir,
		idx:    idx,
		logger: logger,
		ch:     make(chan snapshot.Snapshot, 2),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit blocks while two snapshots are already waiting.
func (w *snapshotWriter) Submit(s snapshot.Snapshot) { w.ch <- s }

// Close waits for every submitted snapshot to be written.
func (w *snapshotWriter) Close() {
	close(w.ch)
	<-w.done
}

func (w *snapshotWriter) loop() {
	defer close(w.done)
	for s := range w.ch {
		path := filepath.Join(w.dir, fmt.Sprintf("%d.snap.zst", s.Header.Step))
		h, err := snapshot.Write(path, s)
		if err != nil {
			w.logger.Printf("snapshot write: %v", err)
			continue
		}
		w.logger.Printf("snapshot step=%d projects=%d digest=%s", h.Step, len(s.Body.Projects.Projects), h.Digest[:12])
		if w.idx != nil {
			w.idx.RecordSnapshot(path, h.Digest, h.Step, len(s.Body.Projects.Projects), len(s.Body.Ledger.Reservables))
		}
	}
}

func latestSnapshot(runDir string) string {
	dir := filepath.Join(runDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStep uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		base, ok := strings.CutSuffix(e.Name(), ".snap.zst")
		if !ok {
			continue
		}
		step, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || step > bestStep {
			bestStep = step
			best = filepath.Join(dir, e.Name())
		}
	}
	return best
}
