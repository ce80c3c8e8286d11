package model

import "fmt"

type Vec3i struct {
	X int `cbor:"x" json:"x" yaml:"x"`
	Y int `cbor:"y" json:"y" yaml:"y"`
	Z int `cbor:"z" json:"z" yaml:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Neighbors4 is the fixed neighbor order used by every search on the plane.
var Neighbors4 = [4]Vec3i{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}

// IsAdjacent reports 4-neighborhood adjacency on the same plane.
func IsAdjacent(a, b Vec3i) bool {
	if a.Y != b.Y {
		return false
	}
	dx, dz := a.X-b.X, a.Z-b.Z
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return dx+dz == 1
}

type ActorID uint64

type ItemID uint64

// FactionID is empty for unaffiliated actors.
type FactionID string

type RefKind uint8

const (
	RefNone RefKind = iota
	RefActor
	RefItem
)

func (k RefKind) String() string {
	switch k {
	case RefActor:
		return "actor"
	case RefItem:
		return "item"
	default:
		return "none"
	}
}

// Ref names either an actor or an item.
type Ref struct {
	Kind RefKind `cbor:"k" json:"kind"`
	ID   uint64  `cbor:"id" json:"id"`
}

func ActorRef(id ActorID) Ref { return Ref{Kind: RefActor, ID: uint64(id)} }
func ItemRef(id ItemID) Ref   { return Ref{Kind: RefItem, ID: uint64(id)} }

func (r Ref) IsZero() bool  { return r.Kind == RefNone }
func (r Ref) IsActor() bool { return r.Kind == RefActor }
func (r Ref) IsItem() bool  { return r.Kind == RefItem }

func (r Ref) Actor() ActorID {
	if r.Kind != RefActor {
		panic(fmt.Sprintf("model: %s is not an actor", r))
	}
	return ActorID(r.ID)
}

func (r Ref) Item() ItemID {
	if r.Kind != RefItem {
		panic(fmt.Sprintf("model: %s is not an item", r))
	}
	return ItemID(r.ID)
}

func (r Ref) String() string {
	switch r.Kind {
	case RefActor:
		return fmt.Sprintf("A%d", r.ID)
	case RefItem:
		return fmt.Sprintf("I%d", r.ID)
	default:
		return "-"
	}
}

// Less orders refs for deterministic iteration: actors before items, then by id.
func (r Ref) Less(o Ref) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.ID < o.ID
}
