package resolution

import (
	"strings"
	"testing"

	"github.com/pdok/wmtspyramid/capabilities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webMercator = `<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <TileMatrixSet>
      <ows:Identifier>3857_18</ows:Identifier>
      <TileMatrix>
        <ows:Identifier>0</ows:Identifier>
        <ScaleDenominator>559082264.0287178</ScaleDenominator>
        <TopLeftCorner>-20037508.3428 20037508.3428</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <MatrixWidth>1</MatrixWidth>
      </TileMatrix>
      <TileMatrix>
        <ows:Identifier>1</ows:Identifier>
        <ScaleDenominator>279541132.0143589</ScaleDenominator>
        <TopLeftCorner>-20037508.3428 20037508.3428</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <MatrixWidth>2</MatrixWidth>
      </TileMatrix>
    </TileMatrixSet>
    <TileMatrixSet>
      <ows:Identifier>empty</ows:Identifier>
      <TileMatrix>
        <ows:Identifier>0</ows:Identifier>
        <TopLeftCorner>0 100</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <MatrixWidth>0</MatrixWidth>
      </TileMatrix>
    </TileMatrixSet>
    <TileMatrixSet>
      <ows:Identifier>incomplete</ows:Identifier>
      <TileMatrix>
        <ows:Identifier>0</ows:Identifier>
        <TopLeftCorner>0 100</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <MatrixWidth>1</MatrixWidth>
      </TileMatrix>
      <TileMatrix>
        <ows:Identifier>1</ows:Identifier>
        <TileWidth>256</TileWidth>
      </TileMatrix>
    </TileMatrixSet>
  </Contents>
</Capabilities>`

func extract(t *testing.T, id string) *capabilities.MatrixSet {
	t.Helper()
	doc, err := capabilities.Parse(strings.NewReader(webMercator))
	require.NoError(t, err)
	set, err := capabilities.ExtractMatrixSet(doc, id)
	require.NoError(t, err)
	return set
}

func resolutions(t *testing.T, set *capabilities.MatrixSet) []float64 {
	t.Helper()
	var got []float64
	for _, zl := range set.ZoomLevels {
		res, ok := zl.Get(capabilities.ResolutionField)
		require.True(t, ok)
		got = append(got, res.(float64))
	}
	return got
}

func TestComputeResolutions(t *testing.T) {
	tests := []struct {
		strategy string
		want     []float64
	}{
		{strategy: GeometricName, want: []float64{156543.03392812500, 78271.51696406250}},
		{strategy: StandardPixelSizeName, want: []float64{156543.03392804097, 78271.51696402048}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			strategy, err := ParseStrategy(tt.strategy)
			require.NoError(t, err)
			set := extract(t, "3857_18")
			require.NoError(t, ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, strategy))

			got := resolutions(t, set)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-6)
			}

			// again, no accumulation
			require.NoError(t, ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, strategy))
			assert.Equal(t, got, resolutions(t, set))
		})
	}
}

func TestGeometric(t *testing.T) {
	set := extract(t, "3857_18")
	res, err := Geometric(set.ZoomLevels[0], capabilities.TopLeftCorner{-20037508.3428, 20037508.3428})
	require.NoError(t, err)
	assert.InDelta(t, 156543.03392804097, res, 1e-3)

	res, err = Geometric(set.ZoomLevels[0], capabilities.TopLeftCorner{-20037508.342789244, 20037508.342789244})
	require.NoError(t, err)
	assert.InDelta(t, 156543.03392804097, res, 1e-9)
}

func TestStandardPixelSize(t *testing.T) {
	set := extract(t, "3857_18")
	res, err := StandardPixelSize(set.ZoomLevels[0], set.TopLeftCorner)
	require.NoError(t, err)
	assert.InDelta(t, 156543.033928, res, 1e-6)
}

func TestComputeResolutions_MissingField(t *testing.T) {
	tests := []struct {
		strategy  Strategy
		wantField string
		wantLevel string
	}{
		{strategy: Geometric, wantField: capabilities.MatrixWidthField, wantLevel: "1"},
		{strategy: StandardPixelSize, wantField: capabilities.ScaleDenominatorField, wantLevel: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.wantField, func(t *testing.T) {
			set := extract(t, "incomplete")
			err := ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, tt.strategy)
			var missing *capabilities.MissingFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.wantField, missing.Field)
			assert.Equal(t, tt.wantLevel, missing.ZoomLevel)
			assert.Equal(t, "incomplete", missing.MatrixSet)

			// untouched
			for _, zl := range set.ZoomLevels {
				_, ok := zl.Get(capabilities.ResolutionField)
				assert.False(t, ok)
			}
		})
	}
}

func TestGeometric_NoPixels(t *testing.T) {
	set := extract(t, "empty")
	err := ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, Geometric)
	var parseErr *capabilities.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), `zoom level "0" spans 0 pixels`)
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, []string{"geometric", "standard-pixel-size"}, Names())

	_, err := ParseStrategy("Geometric")
	assert.NoError(t, err)
	_, err = ParseStrategy("scale")
	assert.EqualError(t, err, `unknown resolution strategy "scale", use one of: geometric, standard-pixel-size`)
}
