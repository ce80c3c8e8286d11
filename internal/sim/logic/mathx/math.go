package mathx

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CeilDiv rounds a/b up. b > 0, a >= 0.
func CeilDiv(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a-1)/b + 1
}

// ScaleByInversePercent returns the share of v still outstanding once pct
// percent of it is done. pct is clamped to 0..100.
func ScaleByInversePercent(v uint64, pct int) uint64 {
	if pct <= 0 {
		return v
	}
	if pct >= 100 {
		return 0
	}
	return v * uint64(100-pct) / 100
}

func Manhattan(ax, ay, az, bx, by, bz int) int {
	return AbsInt(ax-bx) + AbsInt(ay-by) + AbsInt(az-bz)
}
