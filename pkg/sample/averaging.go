package sample

// Average returns the mean of n readings whose sum is given.
// The result is truncated toward zero, the same as integer division on the
// microcontroller, so Average(7, 2) == 3.
func Average(sum uint32, n int) uint16 {
	if n <= 0 {
		return 0
	}
	return uint16(sum / uint32(n))
}
