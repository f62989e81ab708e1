package common

import "fmt"

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// ByteSizeToString returns a human-friendly rendering, e.g. "3.25 GiB".
func ByteSizeToString(size int64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	unit := 0
	value := float64(size)
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", size, units[unit])
	}
	return fmt.Sprintf("%.2f %s", value, units[unit])
}

// GiBToBytes converts a fractional GiB figure to bytes.
func GiBToBytes(gib float64) int64 {
	return int64(gib * float64(GiB))
}

// BytesToGiB converts bytes to fractional GiB.
func BytesToGiB(b uint64) float64 {
	return float64(b) / float64(GiB)
}
