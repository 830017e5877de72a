package imagegen

import (
	"fmt"
	"strings"
)

// negativeBase lists artifacts rejected by every preset.
const negativeBase = "blurry, lowres, bad anatomy, deformed, disfigured, extra limbs, " +
	"text, watermark, logo, jpeg artifacts, oversharpened, noisy, grainy, duplicate, malformed"

// StylePreset bundles prompt tags and sampler parameters for one look.
type StylePreset struct {
	Name         string
	PositiveTags []string
	NegativeTags []string
	Width        int
	Height       int
	Steps        int
	CfgScale     float64
	HiresFix     bool
	HiresScale   float64
	HiresDenoise float64
}

// StylePresets maps preset keys to parameters. Keys line up with content
// types so the hero worker can pick a look per item.
var StylePresets = map[string]StylePreset{
	"photoreal": {
		Name: "photoreal",
		PositiveTags: []string{
			"ultra-detailed, photorealistic, 35mm, shallow depth of field, natural light",
			"sharp focus, cinematic lighting",
		},
		NegativeTags: []string{negativeBase, "overprocessed, plastic, uncanny valley"},
		Width:        1024, Height: 1024,
		Steps: 35, CfgScale: 7.0,
		HiresFix: true, HiresScale: 2.0, HiresDenoise: 0.35,
	},
	"cinematic": {
		Name: "cinematic",
		PositiveTags: []string{
			"cinematic still, volumetric light, subtle film grain, moody shadows, rim light",
			"masterpiece, best quality, sharp details",
		},
		NegativeTags: []string{negativeBase},
		Width:        1024, Height: 1024,
		Steps: 35, CfgScale: 7.0,
		HiresFix: true, HiresScale: 1.5, HiresDenoise: 0.35,
	},
	"editorial": {
		Name: "editorial",
		PositiveTags: []string{
			"editorial illustration, studio lighting, crisp edges, rich color, high contrast",
		},
		NegativeTags: []string{negativeBase, "blown highlights"},
		Width:        1024, Height: 1280,
		Steps: 36, CfgScale: 7.2,
		HiresFix: true, HiresScale: 1.7, HiresDenoise: 0.38,
	},
	"documentary": {
		Name: "documentary",
		PositiveTags: []string{
			"documentary, candid, natural light, realistic color, fine texture, subtle grain",
		},
		NegativeTags: []string{negativeBase},
		Width:        1024, Height: 1024,
		Steps: 32, CfgScale: 6.8,
		HiresFix: true, HiresScale: 1.5, HiresDenoise: 0.32,
	},
}

// defaultStyleKey is used when a caller asks for an unknown preset.
const defaultStyleKey = "editorial"

// PresetFor returns the preset for key, falling back to the default.
func PresetFor(key string) StylePreset {
	if p, ok := StylePresets[strings.ToLower(key)]; ok {
		return p
	}
	return StylePresets[defaultStyleKey]
}

// BuildRequest assembles a GenerateRequest for a subject line under the
// given preset key.
func BuildRequest(title, summary, styleKey string) GenerateRequest {
	p := PresetFor(styleKey)

	subject := title
	if summary != "" {
		subject = fmt.Sprintf("%s: %s", title, summary)
	}

	return GenerateRequest{
		Prompt:         subject + ", " + strings.Join(p.PositiveTags, ", "),
		NegativePrompt: strings.Join(p.NegativeTags, ", "),
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		CfgScale:       p.CfgScale,
		HiresFix:       p.HiresFix,
		HiresScale:     p.HiresScale,
		HiresDenoise:   p.HiresDenoise,
	}
}
