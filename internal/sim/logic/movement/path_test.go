package movement

import (
	"testing"

	"hearthwork.ai/internal/sim/kernel/model"
)

func box(w, h int, walls ...model.Vec3i) Passable {
	blocked := map[model.Vec3i]bool{}
	for _, p := range walls {
		blocked[p] = true
	}
	return func(p model.Vec3i) bool {
		return p.Y == 0 && p.X >= 0 && p.Z >= 0 && p.X < w && p.Z < h && !blocked[p]
	}
}

func TestPathStraight(t *testing.T) {
	path, ok := Path(model.Vec3i{}, func(p model.Vec3i) bool { return p == model.Vec3i{X: 3} }, 0, box(5, 5))
	if !ok || len(path) != 3 || path[2] != (model.Vec3i{X: 3}) {
		t.Fatalf("path=%v ok=%v", path, ok)
	}
}

func TestPathAroundWallIsDeterministic(t *testing.T) {
	pass := box(5, 5, model.Vec3i{X: 1}, model.Vec3i{X: 1, Z: 1})
	goal := func(p model.Vec3i) bool { return p == model.Vec3i{X: 2} }
	a, ok := Path(model.Vec3i{}, goal, 0, pass)
	if !ok {
		t.Fatalf("no path")
	}
	for i := 0; i < 10; i++ {
		b, _ := Path(model.Vec3i{}, goal, 0, pass)
		if len(a) != len(b) {
			t.Fatalf("path length changed: %v vs %v", a, b)
		}
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("path changed: %v vs %v", a, b)
			}
		}
	}
	if len(a) != 6 {
		t.Fatalf("detour len=%d want 6: %v", len(a), a)
	}
}

func TestPathUnreachable(t *testing.T) {
	pass := box(3, 1, model.Vec3i{X: 1})
	if _, ok := Path(model.Vec3i{}, func(p model.Vec3i) bool { return p.X == 2 }, 0, pass); ok {
		t.Fatalf("expected no path")
	}
}

func TestPathAtGoal(t *testing.T) {
	path, ok := Path(model.Vec3i{X: 1}, func(p model.Vec3i) bool { return p.X == 1 }, 0, box(3, 3))
	if !ok || len(path) != 0 {
		t.Fatalf("path=%v ok=%v", path, ok)
	}
}

func TestWalkRespectsDepth(t *testing.T) {
	d := Distances(model.Vec3i{}, 2, box(10, 1))
	if len(d) != 3 || d[model.Vec3i{X: 2}] != 2 {
		t.Fatalf("distances=%v", d)
	}
}
