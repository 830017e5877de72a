package hero

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"strings"
)

// SkeletonDataURI builds a deterministic placeholder image for a content
// record: a small gradient SVG whose colors derive from the content id,
// with the title's first letter as a monogram. No network involved, so
// this step of the chain cannot fail.
func SkeletonDataURI(contentID, title string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(contentID))
	seed := h.Sum32()

	hueA := seed % 360
	hueB := (hueA + 40 + seed%80) % 360

	monogram := "?"
	for _, r := range strings.TrimSpace(title) {
		monogram = strings.ToUpper(string(r))
		break
	}

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="640" height="360" viewBox="0 0 640 360">`+
		`<defs><linearGradient id="g" x1="0" y1="0" x2="1" y2="1">`+
		`<stop offset="0%%" stop-color="hsl(%d,55%%,38%%)"/>`+
		`<stop offset="100%%" stop-color="hsl(%d,60%%,24%%)"/>`+
		`</linearGradient></defs>`+
		`<rect width="640" height="360" fill="url(#g)"/>`+
		`<text x="320" y="208" font-family="Georgia,serif" font-size="140" fill="rgba(255,255,255,0.85)" text-anchor="middle">%s</text>`+
		`</svg>`,
		hueA, hueB, monogram)

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}
