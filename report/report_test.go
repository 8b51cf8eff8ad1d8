package report

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/pdok/wmtspyramid/capabilities"
	"github.com/pdok/wmtspyramid/resolution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extract(t *testing.T, xml, id string) *capabilities.MatrixSet {
	t.Helper()
	doc, err := capabilities.Parse(strings.NewReader(xml))
	require.NoError(t, err)
	set, err := capabilities.ExtractMatrixSet(doc, id)
	require.NoError(t, err)
	return set
}

func TestTable(t *testing.T) {
	set := extract(t, `<Capabilities><Contents><TileMatrixSet>
  <Identifier>3857_18</Identifier>
  <TileMatrix>
    <Identifier>0</Identifier>
    <ScaleDenominator>559082264.0287178</ScaleDenominator>
    <TopLeftCorner>-20037508.3428 20037508.3428</TopLeftCorner>
  </TileMatrix>
  <TileMatrix>
    <Identifier>1</Identifier>
    <ScaleDenominator>279541132.0143589</ScaleDenominator>
  </TileMatrix>
  <TileMatrix>
    <Identifier>2</Identifier>
  </TileMatrix>
</TileMatrixSet></Contents></Capabilities>`, "3857_18")
	set.ZoomLevels[0].Set(capabilities.ResolutionField, 156543.03392804097)
	set.ZoomLevels[1].Set(capabilities.ResolutionField, 78271.51696402048)

	var buf bytes.Buffer
	require.NoError(t, Table(&buf, set.ZoomLevels))

	want := "" +
		"Zoom level | Scale denominator | Resolution\n" +
		"0          | 559082264.0287178 | 156543.03392804097\n" +
		"1          | 279541132.0143589 | 78271.51696402048\n" +
		"2          |                   | \n"
	assert.Equal(t, want, buf.String())
}

func TestTable_EndToEnd(t *testing.T) {
	set := extract(t, `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <TileMatrixSet>
      <ows:Identifier>3857_18</ows:Identifier>
      <TileMatrix>
        <ows:Identifier>18</ows:Identifier>
        <ScaleDenominator>2132.7295838497840</ScaleDenominator>
        <TopLeftCorner>2000000.0 26000000.0</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <MatrixWidth>131072</MatrixWidth>
      </TileMatrix>
    </TileMatrixSet>
  </Contents>
</Capabilities>`, "3857_18")
	require.NoError(t, resolution.ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, resolution.Geometric))

	var buf bytes.Buffer
	require.NoError(t, Table(&buf, set.ZoomLevels))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Zoom level | Scale denominator | Resolution", lines[0])

	columns := strings.Split(lines[1], "|")
	require.Len(t, columns, 3)
	assert.Equal(t, "18", strings.TrimSpace(columns[0]))
	assert.Equal(t, "2132.729583849784", strings.TrimSpace(columns[1]))
	res, err := strconv.ParseFloat(strings.TrimSpace(columns[2]), 64)
	require.NoError(t, err)
	assert.InDelta(t, 2*26000000.0/(256*131072), res, 1e-12)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "256", FormatValue(int64(256)))
	assert.Equal(t, "0.5", FormatValue(0.5))
	assert.Equal(t, "100000000000000000000", FormatValue(1e20))
	assert.Equal(t, "3857_18", FormatValue("3857_18"))
}

func TestJSON(t *testing.T) {
	set := extract(t, `<Capabilities xmlns:ows="http://www.opengis.net/ows/1.1"><Contents><TileMatrixSet>
  <ows:Identifier>A</ows:Identifier>
  <ows:SupportedCRS>urn:ogc:def:crs:EPSG::3857</ows:SupportedCRS>
  <TileMatrix>
    <ows:Identifier>0</ows:Identifier>
    <TopLeftCorner>-180.0 90.0</TopLeftCorner>
    <TileWidth>256</TileWidth>
  </TileMatrix>
</TileMatrixSet></Contents></Capabilities>`, "A")
	set.ZoomLevels[0].Set(capabilities.ResolutionField, 0.5)

	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, set))
	require.JSONEq(t, `{
  "identifier": "A",
  "fields": {"SupportedCRS": "urn:ogc:def:crs:EPSG::3857"},
  "topLeftCorner": [-180, 90],
  "zoomLevels": [
    {"Identifier": 0, "TopLeftCorner": "-180.0 90.0", "TileWidth": 256, "Resolution": 0.5}
  ]
}`, buf.String())

	// zoom level fields keep document order
	assert.Less(t, strings.Index(buf.String(), `"Identifier": 0`), strings.Index(buf.String(), `"Resolution"`))
}

func TestWrite(t *testing.T) {
	set := extract(t, `<Capabilities xmlns:ows="http://www.opengis.net/ows/1.1"><Contents><TileMatrixSet>
  <ows:Identifier>A</ows:Identifier>
  <ows:SupportedCRS>urn:ogc:def:crs:EPSG::3857</ows:SupportedCRS>
  <TileMatrix>
    <ows:Identifier>0</ows:Identifier>
    <ScaleDenominator>559082264.0287178</ScaleDenominator>
    <TopLeftCorner>-20037508.3428 20037508.3428</TopLeftCorner>
    <TileWidth>256</TileWidth>
    <TileHeight>256</TileHeight>
    <MatrixWidth>1</MatrixWidth>
    <MatrixHeight>1</MatrixHeight>
  </TileMatrix>
</TileMatrixSet></Contents></Capabilities>`, "A")
	require.NoError(t, resolution.ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, resolution.Geometric))

	for _, format := range Formats {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, format, set))
			assert.NotEmpty(t, buf.String())
		})
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTMS20, set))
	assert.Contains(t, buf.String(), `"crs": "urn:ogc:def:crs:EPSG::3857"`)
	assert.Contains(t, buf.String(), `"cellSize": 156543.033928125`)

	buf.Reset()
	err := Write(&buf, "csv", set)
	assert.EqualError(t, err, `unknown format "csv", use one of: table, json, tms20`)
	assert.Empty(t, buf.String())
}

func TestTMS20_WithoutResolutions(t *testing.T) {
	set := extract(t, `<Capabilities><Contents><TileMatrixSet>
  <Identifier>A</Identifier>
  <SupportedCRS>urn:ogc:def:crs:EPSG::3857</SupportedCRS>
  <TileMatrix><Identifier>0</Identifier><ScaleDenominator>1000</ScaleDenominator><TopLeftCorner>0 1</TopLeftCorner></TileMatrix>
</TileMatrixSet></Contents></Capabilities>`, "A")

	var buf bytes.Buffer
	err := TMS20(&buf, set)
	var missing *capabilities.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Empty(t, buf.String())
}

func TestTMS20_MixedIdentifiers(t *testing.T) {
	tileMatrix := func(id string) string {
		return `<TileMatrix><Identifier>` + id + `</Identifier><ScaleDenominator>1000</ScaleDenominator>` +
			`<TopLeftCorner>0 1</TopLeftCorner><TileWidth>256</TileWidth><TileHeight>256</TileHeight>` +
			`<MatrixWidth>1</MatrixWidth><MatrixHeight>1</MatrixHeight></TileMatrix>`
	}
	// "a" is keyed by its position 2, but lands at position 1 once sorted, next to zoom level 1
	set := extract(t, `<Capabilities><Contents><TileMatrixSet>
  <Identifier>A</Identifier>
  <SupportedCRS>urn:ogc:def:crs:EPSG::3857</SupportedCRS>`+
		tileMatrix("9")+tileMatrix("1")+tileMatrix("a")+`
</TileMatrixSet></Contents></Capabilities>`, "A")
	require.NoError(t, resolution.ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, resolution.StandardPixelSize))

	var buf bytes.Buffer
	err := TMS20(&buf, set)
	assert.ErrorContains(t, err, "tile matrix set A is not a valid TMS 2.0 document")
	assert.ErrorContains(t, err, `duplicate tile matrix for zoom level 1: "a"`)
	assert.Empty(t, buf.String())
}
