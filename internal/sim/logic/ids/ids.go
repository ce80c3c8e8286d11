package ids

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	PrefixProject    = "P"
	PrefixSubproject = "S"
	PrefixHolder     = "H"
	PrefixReservable = "R"
	PrefixActor      = "A"
	PrefixItem       = "I"
)

func Format(prefix string, n uint64) string {
	return prefix + strconv.FormatUint(n, 10)
}

func ParseUintAfterPrefix(prefix, id string) (uint64, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(id[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func MaxU64(a, b uint64) uint64 {
	if a >= b {
		return a
	}
	return b
}

// LocationID renders a site as "LOC@x,y,z".
func LocationID(x, y, z int) string {
	return fmt.Sprintf("LOC@%d,%d,%d", x, y, z)
}

func ParseLocationID(id string) (x, y, z int, ok bool) {
	rest, found := strings.CutPrefix(id, "LOC@")
	if !found {
		return 0, 0, 0, false
	}
	coord := strings.Split(rest, ",")
	if len(coord) != 3 {
		return 0, 0, 0, false
	}
	x, err1 := strconv.Atoi(coord[0])
	y, err2 := strconv.Atoi(coord[1])
	z, err3 := strconv.Atoi(coord[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return x, y, z, true
}
