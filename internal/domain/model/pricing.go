package model

const (
	TierStandard = "standard"
	TierPro      = "pro"

	CreditsPerGeneration    = 1
	CreditsPerGenerationPro = 5
)

// PackCredits maps top-up pack price (RUB) to the credits it grants.
var PackCredits = map[int]int{
	149:  30,
	299:  65,
	690:  170,
	990:  270,
	1900: 540,
}

// CreditsPerTier returns the cost of a single generation for a model tier.
func CreditsPerTier(tier string) int {
	if tier == TierPro {
		return CreditsPerGenerationPro
	}
	return CreditsPerGeneration
}

func CreditsForPack(rub int) int {
	return PackCredits[rub]
}
