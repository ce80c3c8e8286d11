package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	_ "modernc.org/sqlite"

	"hearthwork.ai/internal/persistence/snapshot"
)

func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "runs")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSNAPSHOTS\tLATEST STEP")
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snaps, _ := filepath.Glob(filepath.Join(base, e.Name(), "snapshots", "*.snap.zst"))
		latest := "-"
		var best uint64
		for _, p := range snaps {
			if h, err := snapshot.ReadHeader(p); err == nil && h.Step >= best {
				best = h.Step
				latest = fmt.Sprint(h.Step)
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name(), len(snaps), latest)
	}
	_ = tw.Flush()
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit for events and snapshots")
	projectID := fs.String("project", "", "project filter for events, e.g. P3")
	_ = fs.Parse(args)

	q := "projects"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "runs", *runID, "index.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	if *limit <= 0 {
		*limit = 20
	}

	var rows *sql.Rows
	switch q {
	case "projects":
		rows, err = db.Query(`SELECT run_id, project, kind, phase, created_step, COALESCE(ended_step, -1),
			workers_joined, hauls_started, hauls_delivered, hauls_cancelled, resets, delays
			FROM projects ORDER BY run_id, created_step, project`)
	case "events":
		if *projectID != "" {
			rows, err = db.Query(`SELECT run_id, seq, step, kind, project, raw_json FROM events WHERE project = ? ORDER BY run_id, seq DESC LIMIT ?`, *projectID, *limit)
		} else {
			rows, err = db.Query(`SELECT run_id, seq, step, kind, project, raw_json FROM events ORDER BY run_id, seq DESC LIMIT ?`, *limit)
		}
	case "snapshots":
		rows, err = db.Query(`SELECT run_id, step, path, digest, projects, reservables FROM snapshots ORDER BY step DESC LIMIT ?`, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	if err := printRows(rows); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

// printRows writes any result set as a tab-aligned table.
func printRows(rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = v.String
		}
		fmt.Fprintln(tw, strings.Join(out, "\t"))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return tw.Flush()
}
