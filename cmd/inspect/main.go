package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"hearthwork.ai/internal/persistence/snapshot"
	"hearthwork.ai/internal/sim/logic/ids"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/reserve"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "runs":
			runsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	snapshotCmd(os.Args[1:])
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "path to .snap.zst")
	headerOnly := fs.Bool("header", false, "print the header without reading the body")
	asJSON := fs.Bool("json", false, "dump the decoded body as JSON")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printHeader(h)
		return
	}

	snap, err := snapshot.Read(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap.Body); err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		return
	}

	printHeader(snap.Header)
	fmt.Printf("digest ok; world %dx%d actors=%d items=%d reservables=%d holders=%d\n\n",
		snap.Body.World.Width, snap.Body.World.Depth, len(snap.Body.World.Actors), len(snap.Body.World.Items),
		len(snap.Body.Ledger.Reservables), len(snap.Body.Ledger.Holders))
	printProjects(snap.Body.Projects)
	fmt.Println()
	printReservations(snap.Body.Ledger)
}

func printHeader(h snapshot.Header) {
	fmt.Printf("snapshot v%d run=%s step=%d digest=%s\n", h.Version, h.RunID, h.Step, h.Digest)
	if h.SpeciesDigest != "" || h.ItemsDigest != "" {
		fmt.Printf("catalogs species=%s items=%s\n", h.SpeciesDigest, h.ItemsDigest)
	}
}

func printProjects(st project.State) {
	if len(st.Projects) == 0 {
		fmt.Println("no projects")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tKIND\tPHASE\tWORKERS\tCANDIDATES\tHAULS\tDONE\tFINISH IN")
	for _, p := range st.Projects {
		finish := "-"
		if p.FinishIn > 0 {
			finish = fmt.Sprint(p.FinishIn)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d%%\t%s\n",
			ids.Format(ids.PrefixProject, uint64(p.ID)), p.Design.Kind, p.Reported,
			len(p.Workers), p.Design.MaxWorkers, len(p.Candidates), len(p.Hauls), p.PercentDone, finish)
	}
	_ = tw.Flush()

	for _, p := range st.Projects {
		fmt.Printf("\n%s at %s faction=%s min_haul_speed=%d haul_retries=%d admission_retries=%d\n",
			ids.Format(ids.PrefixProject, uint64(p.ID)), p.Design.Location, p.Design.Faction,
			p.MinimumHaulSpeed, p.HaulRetries, p.AdmissionRetries)
		for _, r := range p.Requirements {
			use := "use"
			if r.Consumed {
				use = "consume"
			}
			fmt.Printf("  %-7s %-28s reserved=%d/%d delivered=%d\n", use, r.Query, r.Reserved, r.Required, r.Delivered)
		}
		for _, h := range p.Hauls {
			fmt.Printf("  %s %s %s x%d workers=%v\n",
				ids.Format(ids.PrefixSubproject, uint64(h.ID)), h.Strategy, h.Target, h.Quantity, h.Workers)
		}
	}
}

func printReservations(st reserve.State) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESERVABLE\tMAX\tCLAIMS")
	rows := 0
	for _, r := range st.Reservables {
		if len(r.Claims) == 0 {
			continue
		}
		claims := make([]string, 0, len(r.Claims))
		for _, c := range r.Claims {
			claims = append(claims, fmt.Sprintf("%s:%d", ids.Format(ids.PrefixHolder, uint64(c.Holder)), c.Quantity))
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", ids.Format(ids.PrefixReservable, uint64(r.ID)), r.Max, strings.Join(claims, " "))
		rows++
	}
	if rows == 0 {
		fmt.Println("no reservations")
		return
	}
	_ = tw.Flush()
}
