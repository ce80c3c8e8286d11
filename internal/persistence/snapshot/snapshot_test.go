package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/worldtest"
)

type doneObjective struct{ completed []project.ID }

func (o *doneObjective) ProjectComplete(p project.ID) { o.completed = append(o.completed, p) }
func (o *doneObjective) Reset(project.ID)             {}
func (o *doneObjective) CannotReserve(project.ID)     {}
func (o *doneObjective) CannotComplete(project.ID)    {}

func midHaul(t *testing.T) (*worldtest.Harness, project.ID, model.ActorID) {
	h := worldtest.NewHarness(t, worldtest.Config{})
	d := h.Actor("dwarf", "red", model.Vec3i{X: 2, Z: 3})
	h.Item("stone", 2, model.Vec3i{X: 5, Z: 3})
	id := h.Project(project.Design{
		Kind:         project.KindConstruct,
		Location:     model.Vec3i{X: 10, Z: 3},
		Faction:      "red",
		MaxWorkers:   1,
		BaseDuration: 3,
		Consumed: []project.Need{{
			Query:    model.Query{Kind: model.RefItem, Type: "stone"},
			Quantity: 2,
		}},
	})
	h.Offer(id, d)
	h.StepUntil(20, "cargo in hand", func() bool {
		ss := h.MustProject(id).Hauls()
		return len(ss) > 0 && !ss[0].Cargo.IsZero()
	})
	return h, id, d
}

func TestWriteReadRestore(t *testing.T) {
	h, id, d := midHaul(t)
	path := filepath.Join(t.TempDir(), "snap", "run.snap.zst")

	hdr, err := Write(path, Capture("run-1", h.E, h.W, h.Cats))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if hdr.Digest == "" || hdr.Step != h.E.Now() {
		t.Fatalf("header=%+v now=%d", hdr, h.E.Now())
	}
	onlyHdr, err := ReadHeader(path)
	if err != nil || onlyHdr != hdr {
		t.Fatalf("ReadHeader=%+v,%v want %+v", onlyHdr, err, hdr)
	}

	s, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Header.RunID != "run-1" || len(s.Body.Projects.Projects) != 1 {
		t.Fatalf("snapshot header=%+v projects=%d", s.Header, len(s.Body.Projects.Projects))
	}

	obj := &doneObjective{}
	r, err := Restore(s, h.Cats, func(model.ActorID) project.Objective { return obj }, nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Engine.Now() != h.E.Now() {
		t.Fatalf("restored clock=%d want %d", r.Engine.Now(), h.E.Now())
	}
	if r.World.Location(model.ActorRef(d)) != h.W.Location(model.ActorRef(d)) {
		t.Fatalf("worker moved across the snapshot")
	}
	for i := 0; i < 80; i++ {
		if _, live := r.Engine.Project(id); !live {
			break
		}
		if err := r.Engine.Step(context.Background()); err != nil {
			t.Fatalf("step: %v", err)
		}
		r.World.Step()
		if p, ok := r.Engine.ProjectOf(d); ok && p.HasWorker(d) && r.World.IsIdle(d) {
			r.Engine.CommandWorker(d)
		}
	}
	if len(obj.completed) != 1 || obj.completed[0] != id {
		t.Fatalf("restored run completed %v", obj.completed)
	}
}

func TestReadRejectsTamperedDigest(t *testing.T) {
	h, _, _ := midHaul(t)
	path := filepath.Join(t.TempDir(), "run.snap.zst")
	hdr, err := Write(path, Capture("run-2", h.E, h.W, h.Cats))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	forged := bytes.Replace(raw, []byte(hdr.Digest), []byte(strings.Repeat("0", len(hdr.Digest))), 1)
	if err := os.WriteFile(path, forged, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); !errors.Is(err, ErrDigest) {
		t.Fatalf("Read of forged snapshot: %v", err)
	}
}

func TestRestoreRefusesChangedCatalog(t *testing.T) {
	h, _, _ := midHaul(t)
	s := Capture("run-3", h.E, h.W, h.Cats)
	s.Header.ItemsDigest = "stale"
	if _, err := Restore(s, h.Cats, nil, nil); err == nil {
		t.Fatalf("restore accepted a snapshot taken against another item catalog")
	}
}
