package hash

// Tier grades a near-duplicate match by its maximum distance.
type Tier int

const (
	TierNone Tier = iota
	TierHigh
	TierHighest
)

func (t Tier) String() string {
	switch t {
	case TierHighest:
		return "highest"
	case TierHigh:
		return "high"
	default:
		return "none"
	}
}

// Thresholds decides when two fingerprints are the same picture. The defaults
// are empirical and meant to be calibrated through configuration.
type Thresholds struct {
	PHash int
	DHash int
	AHash int
	Max   int

	// HighestTierMax is the largest max distance still graded TierHighest.
	HighestTierMax    int
	HighestConfidence float64
	HighConfidence    float64
}

// DefaultThresholds returns the stock near-duplicate rule.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PHash:             2,
		DHash:             3,
		AHash:             3,
		Max:               3,
		HighestTierMax:    1,
		HighestConfidence: 0.9,
		HighConfidence:    0.7,
	}
}

// IsNearDuplicate applies the threshold rule to precomputed distances.
func (t Thresholds) IsNearDuplicate(d Distances) bool {
	return d.PHash <= t.PHash &&
		d.DHash <= t.DHash &&
		d.AHash <= t.AHash &&
		d.Max <= t.Max
}

// Tier grades d. Anything beyond Max is TierNone and must be discarded.
func (t Thresholds) Tier(d Distances) Tier {
	switch {
	case d.Max <= t.HighestTierMax:
		return TierHighest
	case d.Max <= t.Max:
		return TierHigh
	default:
		return TierNone
	}
}

// Confidence maps a tier to a provider confidence.
func (t Thresholds) Confidence(tier Tier) float64 {
	switch tier {
	case TierHighest:
		return t.HighestConfidence
	case TierHigh:
		return t.HighConfidence
	default:
		return 0
	}
}

// IsNearDuplicate compares two fingerprints under the default thresholds.
func IsNearDuplicate(a, b *Fingerprint) bool {
	return DefaultThresholds().IsNearDuplicate(Compare(a, b))
}
