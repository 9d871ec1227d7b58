package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageCents(t *testing.T) {
	assert.Equal(t, 0, ImageCents(0))
	assert.Equal(t, 0, ImageCents(-3))
	assert.Equal(t, 4, ImageCents(1))
	assert.Equal(t, 16, ImageCents(4))
}

func TestVideoCentsRoundsUp(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		tier    ResolutionTier
		want    int
	}{
		{"zero seconds", 0, Tier1080, 0},
		{"negative seconds", -4, Tier720, 0},
		{"exact 480p", 10, Tier480, 15},
		{"fractional 480p rounds up", 10.1, Tier480, 16},
		{"one second 720p rounds up", 1, Tier720, 3},
		{"1080p", 8, Tier1080, 40},
		{"unknown tier bills as 1080p", 8, ResolutionTier("8k"), 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VideoCents(tt.seconds, tt.tier))
		})
	}
}

func TestFrameCents(t *testing.T) {
	assert.Equal(t, 0, FrameCents(0))
	// 1 frame = 0.25 cents, must round up to 1.
	assert.Equal(t, 1, FrameCents(1))
	assert.Equal(t, 1, FrameCents(4))
	assert.Equal(t, 2, FrameCents(5))
	assert.Equal(t, 60, FrameCents(240))
}

func TestFlatCents(t *testing.T) {
	assert.Equal(t, 2, FlatCents("qwen"))
	assert.Equal(t, 12, FlatCents("runpod"))
	assert.Equal(t, 0, FlatCents("nonexistent"))
}

func TestNeverNegative(t *testing.T) {
	for _, got := range []int{
		ImageCents(-10),
		VideoCents(-1, Tier480),
		FrameCents(-100),
		FlatCents(""),
	} {
		assert.GreaterOrEqual(t, got, 0)
	}
}

func TestTierForResolution(t *testing.T) {
	assert.Equal(t, Tier480, TierForResolution("854x480"))
	assert.Equal(t, Tier720, TierForResolution("720p"))
	assert.Equal(t, Tier1080, TierForResolution(""))
	assert.Equal(t, Tier1080, TierForResolution("4k"))
}
