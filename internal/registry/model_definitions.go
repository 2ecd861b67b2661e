// Package registry provides the static model table for the gateway.
// Quality tiers map to a primary ModelProfile and a fixed fallback profile; the table is
// read-only and safe for concurrent use.
package registry

import (
	"strings"
)

// Locations a model can be served from.
const (
	LocationGlobal   = "global"
	LocationRegional = "regional"
)

// Quality tiers, lowest first.
const (
	TierStandard = "standard"
	TierHD       = "hd"
	TierQHD      = "qhd"
	TierUHD      = "uhd"
)

// Model identifiers.
const (
	BaselineImageModel = "gemini-2.5-flash-image"
	ProImageModel      = "gemini-3-pro-image-preview"
	TextModel          = "gemini-2.5-flash"
)

// ModelProfile describes where and how a model is called.
type ModelProfile struct {
	ModelID string

	// Location is LocationGlobal or LocationRegional.
	Location string

	// ImageSize is the resolution parameter sent when SupportsImageSize is true.
	ImageSize string

	SupportsImageSize bool
}

// IsGlobal reports whether the profile must be addressed through the global host.
func (p ModelProfile) IsGlobal() bool { return p.Location == LocationGlobal }

var (
	baselineProfile = ModelProfile{ModelID: BaselineImageModel, Location: LocationRegional}

	textProfile = ModelProfile{ModelID: TextModel, Location: LocationRegional}

	tierOrder = []string{TierStandard, TierHD, TierQHD, TierUHD}

	tierProfiles = map[string]ModelProfile{
		TierStandard: baselineProfile,
		TierHD:       {ModelID: ProImageModel, Location: LocationGlobal, ImageSize: "1K", SupportsImageSize: true},
		TierQHD:      {ModelID: ProImageModel, Location: LocationGlobal, ImageSize: "2K", SupportsImageSize: true},
		TierUHD:      {ModelID: ProImageModel, Location: LocationGlobal, ImageSize: "4K", SupportsImageSize: true},
	}
)

// Resolve returns the primary and fallback profiles for tier.
// tier is matched case-insensitively; unknown or empty tiers resolve to TierStandard.
// The fallback is always the regional baseline model without an image size.
func Resolve(tier string) (primary, fallback ModelProfile) {
	key := strings.ToLower(strings.TrimSpace(tier))
	primary, ok := tierProfiles[key]
	if !ok {
		primary = tierProfiles[TierStandard]
	}
	return primary, baselineProfile
}

// Fallback returns the baseline profile used when a primary model is unavailable.
func Fallback() ModelProfile { return baselineProfile }

// TextProfile returns the profile used for text and multimodal generation.
func TextProfile() ModelProfile { return textProfile }

// Tiers lists the known quality tiers, lowest first.
func Tiers() []string {
	out := make([]string, len(tierOrder))
	copy(out, tierOrder)
	return out
}
