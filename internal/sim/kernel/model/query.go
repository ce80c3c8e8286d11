package model

type Locomotion uint8

const (
	LocomotionNone Locomotion = iota
	LocomotionWalk
	LocomotionRoll
	LocomotionFloat
)

func (l Locomotion) String() string {
	switch l {
	case LocomotionWalk:
		return "walk"
	case LocomotionRoll:
		return "roll"
	case LocomotionFloat:
		return "float"
	default:
		return "none"
	}
}

func ParseLocomotion(s string) (Locomotion, bool) {
	switch s {
	case "", "none":
		return LocomotionNone, true
	case "walk":
		return LocomotionWalk, true
	case "roll":
		return LocomotionRoll, true
	case "float":
		return LocomotionFloat, true
	}
	return LocomotionNone, false
}

// Info is the read-only view of an actor or item the engine plans against.
type Info struct {
	Ref      Ref
	Type     string
	Material string
	Faction  FactionID

	// Quantity is the stack size for generic items, 1 otherwise.
	Quantity int
	Generic  bool
	// UnitMass is the mass of a single unit.
	UnitMass int
	Volume   int
	// InternalVolume is the cargo volume for containers and haul tools.
	InternalVolume int

	Locomotion Locomotion
	Sentient   bool
	Yokeable   bool
	HaulTool   bool
	Panniers   bool

	Location Vec3i
	// Placed is false while carried, led cargo or equipped.
	Placed bool
}

func (i Info) TotalMass() int { return i.UnitMass * i.Quantity }

// Query selects resources by kind, type and optionally material.
type Query struct {
	Kind     RefKind `cbor:"k" json:"kind" yaml:"kind"`
	Type     string  `cbor:"t" json:"type" yaml:"type"`
	Material string  `cbor:"m,omitempty" json:"material,omitempty" yaml:"material,omitempty"`
}

func (q Query) Matches(info Info) bool {
	if q.Kind != info.Ref.Kind {
		return false
	}
	if q.Type != "" && q.Type != info.Type {
		return false
	}
	if q.Material != "" && q.Material != info.Material {
		return false
	}
	return true
}

func (q Query) String() string {
	s := q.Kind.String() + ":" + q.Type
	if q.Material != "" {
		s += "/" + q.Material
	}
	return s
}
