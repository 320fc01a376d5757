package match

const (
	// MinCoarseSide is the smallest reduced template side that still
	// gives a meaningful coarse search.
	MinCoarseSide = 4

	// DefaultCandidates is how many coarse hits are refined at full resolution.
	DefaultCandidates = 4

	// eps guards against a near-zero denominator from rounding.
	eps = 1e-12
)
