package model

import (
	"fmt"
	"strings"
)

// Resolution identifies one of the fixed frame size variants processed per request.
type Resolution string

const (
	ResolutionLow    Resolution = "low"
	ResolutionMedium Resolution = "medium"
	ResolutionHigh   Resolution = "high"
)

// Resolutions lists every resolution in response order.
var Resolutions = []Resolution{ResolutionLow, ResolutionMedium, ResolutionHigh}

// resolutionAliases maps wire names used by upstream producers to resolutions.
// The cluster sends parts named after the frame height ("256.png", "720.png", "1080.png").
var resolutionAliases = map[string]Resolution{
	"low":      ResolutionLow,
	"256":      ResolutionLow,
	"256.png":  ResolutionLow,
	"256.jpg":  ResolutionLow,
	"medium":   ResolutionMedium,
	"720":      ResolutionMedium,
	"720.png":  ResolutionMedium,
	"720.jpg":  ResolutionMedium,
	"high":     ResolutionHigh,
	"1080":     ResolutionHigh,
	"1080.png": ResolutionHigh,
	"1080.jpg": ResolutionHigh,
}

// ParseResolution resolves a resolution label or one of its wire aliases.
func ParseResolution(s string) (Resolution, error) {
	if r, ok := resolutionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// Index returns the position of r in Resolutions, or -1.
func (r Resolution) Index() int {
	for i, v := range Resolutions {
		if v == r {
			return i
		}
	}
	return -1
}

// Valid reports whether r is one of the known resolutions.
func (r Resolution) Valid() bool {
	return r.Index() >= 0
}

func (r Resolution) String() string {
	return string(r)
}
