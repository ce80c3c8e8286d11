package movement

import "hearthwork.ai/internal/sim/kernel/model"

// Passable reports whether a cell can be entered.
type Passable func(model.Vec3i) bool

// Path returns the cells from start (exclusive) to the nearest cell for which
// goal holds, breadth first in model.Neighbors4 order so equal-length
// routes always resolve the same way. A start that already satisfies goal
// yields an empty path. maxDepth <= 0 means unbounded.
func Path(start model.Vec3i, goal func(model.Vec3i) bool, maxDepth int, passable Passable) ([]model.Vec3i, bool) {
	if goal(start) {
		return nil, true
	}
	prev := map[model.Vec3i]model.Vec3i{}
	end, ok := walk(start, maxDepth, passable, prev, func(p model.Vec3i, _ int) bool { return goal(p) })
	if !ok {
		return nil, false
	}
	var rev []model.Vec3i
	for p := end; p != start; p = prev[p] {
		rev = append(rev, p)
	}
	out := make([]model.Vec3i, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out, true
}

// Walk visits start and every reachable cell within maxDepth steps in
// breadth-first order until visit returns true. It returns that cell.
func Walk(start model.Vec3i, maxDepth int, passable Passable, visit func(p model.Vec3i, depth int) bool) (model.Vec3i, bool) {
	if visit(start, 0) {
		return start, true
	}
	return walk(start, maxDepth, passable, nil, visit)
}

func walk(start model.Vec3i, maxDepth int, passable Passable, prev map[model.Vec3i]model.Vec3i, visit func(model.Vec3i, int) bool) (model.Vec3i, bool) {
	type qItem struct {
		p     model.Vec3i
		depth int
	}
	visited := map[model.Vec3i]bool{start: true}
	queue := []qItem{{p: start}}
	for head := 0; head < len(queue); head++ {
		it := queue[head]
		if maxDepth > 0 && it.depth >= maxDepth {
			continue
		}
		for _, d := range model.Neighbors4 {
			np := it.p.Add(d)
			if visited[np] || !passable(np) {
				continue
			}
			visited[np] = true
			if prev != nil {
				prev[np] = it.p
			}
			if visit(np, it.depth+1) {
				return np, true
			}
			queue = append(queue, qItem{p: np, depth: it.depth + 1})
		}
	}
	return model.Vec3i{}, false
}

// Distances maps every cell reachable from start within maxDepth to its step
// count.
func Distances(start model.Vec3i, maxDepth int, passable Passable) map[model.Vec3i]int {
	out := map[model.Vec3i]int{}
	Walk(start, maxDepth, passable, func(p model.Vec3i, depth int) bool {
		out[p] = depth
		return false
	})
	return out
}
