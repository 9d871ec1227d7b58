// Package pricing maps executed operations onto cost in minor currency units.
// All functions are pure; totals are summed by the pipeline for the stages
// that actually produced a result. Fractions round up so billing never
// undercuts the provider invoice.
package pricing

import "math"

// ResolutionTier buckets video output by billing tier.
type ResolutionTier string

const (
	Tier480  ResolutionTier = "480p"
	Tier720  ResolutionTier = "720p"
	Tier1080 ResolutionTier = "1080p"
)

// Per-unit rates in minor currency units.
const (
	imageCents = 4 // per generated image

	frameMilliCents = 250 // per processed frame, in thousandths of a cent

	trainingFlatCents = 350 // per fine-tune run
)

// videoCentsPerSecond is keyed by output resolution tier. Unknown tiers bill
// at the highest rate.
var videoCentsPerSecond = map[ResolutionTier]float64{
	Tier480:  1.5,
	Tier720:  2.5,
	Tier1080: 5,
}

// flatRequestCents prices fallback providers that bill per request, not per
// unit of output.
var flatRequestCents = map[string]int{
	"qwen":   2,
	"falai":  9,
	"runpod": 12,
}

// ImageCents prices a batch of generated images at a flat per-image fee.
func ImageCents(count int) int {
	if count <= 0 {
		return 0
	}
	return count * imageCents
}

// VideoCents prices seconds of rendered video at the tier's per-second rate,
// rounded up to a whole cent.
func VideoCents(seconds float64, tier ResolutionTier) int {
	if seconds <= 0 {
		return 0
	}
	rate, ok := videoCentsPerSecond[tier]
	if !ok {
		rate = videoCentsPerSecond[Tier1080]
	}
	return ceilCents(seconds * rate)
}

// FrameCents prices frame-accurate processing (extraction, face swap) per
// frame, rounded up.
func FrameCents(frames int) int {
	if frames <= 0 {
		return 0
	}
	return ceilCents(float64(frames) * float64(frameMilliCents) / 1000)
}

// TrainingCents prices one training run.
func TrainingCents() int { return trainingFlatCents }

// FlatCents prices a per-request provider. Unknown providers are free rather
// than guessed at.
func FlatCents(provider string) int {
	return flatRequestCents[provider]
}

// TierForResolution maps a requested output resolution string onto its
// billing tier, defaulting upward when unrecognized.
func TierForResolution(resolution string) ResolutionTier {
	switch resolution {
	case "480p", "854x480":
		return Tier480
	case "720p", "1280x720":
		return Tier720
	case "1080p", "1920x1080", "":
		return Tier1080
	default:
		return Tier1080
	}
}

func ceilCents(v float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Ceil(v))
}
