// Package resolution computes the ground resolution (CRS units per pixel, usually meters)
// of the zoom levels of a tile matrix set.
//
// Two derivations are in use and they do not agree in general:
// Geometric derives the resolution from the extent spanned by the tile matrix,
// StandardPixelSize from the scale denominator and the OGC standardized
// rendering pixel size of 0.28 mm. For a well-formed Web Mercator tile matrix set
// both give (nearly) the same values, for other grids they can differ a lot.
package resolution

import (
	"fmt"
	"strings"

	"github.com/pdok/wmtspyramid/capabilities"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// StandardizedPixelSize is the size of a rendering pixel in meters as defined by OGC (0.28 mm)
const StandardizedPixelSize = 0.00028

const (
	GeometricName         = "geometric"
	StandardPixelSizeName = "standard-pixel-size"
)

// Strategy computes the resolution of a single zoom level.
type Strategy func(zoomLevel *capabilities.ZoomLevel, topLeftCorner capabilities.TopLeftCorner) (float64, error)

var strategies = map[string]Strategy{
	GeometricName:         Geometric,
	StandardPixelSizeName: StandardPixelSize,
}

// Geometric returns 2 × topLeftCorner.y / (TileWidth × MatrixWidth):
// the projected extent (assumed symmetric around the origin) divided by the pixel width of the matrix.
func Geometric(zoomLevel *capabilities.ZoomLevel, topLeftCorner capabilities.TopLeftCorner) (float64, error) {
	tileWidth, err := capabilities.Number[float64](zoomLevel, capabilities.TileWidthField)
	if err != nil {
		return 0, err
	}
	matrixWidth, err := capabilities.Number[float64](zoomLevel, capabilities.MatrixWidthField)
	if err != nil {
		return 0, err
	}
	pixels := tileWidth * matrixWidth
	if pixels <= 0 {
		return 0, &capabilities.ParseError{
			Err: fmt.Errorf("zoom level %q spans %v pixels, cannot compute a resolution", zoomLevel.Identifier(), pixels),
		}
	}
	return 2 * topLeftCorner.Y() / pixels, nil
}

// StandardPixelSize returns 0.00028 × ScaleDenominator
func StandardPixelSize(zoomLevel *capabilities.ZoomLevel, _ capabilities.TopLeftCorner) (float64, error) {
	scaleDenominator, err := capabilities.Number[float64](zoomLevel, capabilities.ScaleDenominatorField)
	if err != nil {
		return 0, err
	}
	return StandardizedPixelSize * scaleDenominator, nil
}

// ParseStrategy looks up a strategy by name, see Names
func ParseStrategy(name string) (Strategy, error) {
	strategy, ok := strategies[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown resolution strategy %q, use one of: %s", name, strings.Join(Names(), ", "))
	}
	return strategy, nil
}

// Names of the available strategies, sorted
func Names() []string {
	names := maps.Keys(strategies)
	slices.Sort(names)
	return names
}

// ComputeResolutions sets the Resolution field on every zoom level.
// All resolutions are computed before any zoom level is touched,
// so on error the zoom levels are left as they were.
func ComputeResolutions(zoomLevels []*capabilities.ZoomLevel, topLeftCorner capabilities.TopLeftCorner, strategy Strategy) error {
	resolutions := make([]float64, len(zoomLevels))
	for i, zoomLevel := range zoomLevels {
		res, err := strategy(zoomLevel, topLeftCorner)
		if err != nil {
			return err
		}
		resolutions[i] = res
	}
	for i, zoomLevel := range zoomLevels {
		zoomLevel.Set(capabilities.ResolutionField, resolutions[i])
	}
	return nil
}
