// Package fees computes the platform commission charged on top of an
// agreement's total at funding time.
package fees

// MaxBPS caps the configurable platform fee at 10%.
const MaxBPS = 1000

// Compute returns floor(total * bps / 10000) in minor units.
// Decomposed to stay within int64 for arbitrarily large totals.
func Compute(total int64, bps int) int64 {
	if total <= 0 || bps <= 0 {
		return 0
	}
	b := int64(bps)
	return (total/10000)*b + (total%10000)*b/10000
}
