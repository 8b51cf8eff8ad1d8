// Package tms20 implements the OGC Tile Matrix Set standard (v2.0) as a slippy.Grid
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pdok/wmtspyramid/capabilities"

	"github.com/go-spatial/geom"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	supportedCRSField      = "SupportedCRS"
	wellKnownScaleSetField = "WellKnownScaleSet"
	lowerCornerField       = "LowerCorner"
	upperCornerField       = "UpperCorner"
)

// FromWMTS converts a WMTS tile matrix set, with resolutions computed, to a TileMatrixSet.
// The resolution of each zoom level becomes the cell size of its tile matrix.
func FromWMTS(set *capabilities.MatrixSet) (TileMatrixSet, error) {
	tms := TileMatrixSet{ID: set.Identifier}

	rawCrs, ok := set.Fields.Get(supportedCRSField)
	if !ok {
		return tms, &capabilities.MissingFieldError{Field: supportedCRSField, MatrixSet: set.Identifier}
	}
	crs := &URICRS{asString: true}
	if err := crs.parseURI(fmt.Sprint(rawCrs)); err != nil {
		return tms, err
	}
	tms.CRS = crs

	if wkss, ok := set.Fields.Get(wellKnownScaleSetField); ok {
		tms.WellKnownScaleSet = fmt.Sprint(wkss)
	}

	rawLower, hasLower := set.Fields.Get(lowerCornerField)
	rawUpper, hasUpper := set.Fields.Get(upperCornerField)
	if hasLower && hasUpper {
		lower, err := capabilities.ParseTopLeftCorner(fmt.Sprint(rawLower))
		if err != nil {
			return tms, err
		}
		upper, err := capabilities.ParseTopLeftCorner(fmt.Sprint(rawUpper))
		if err != nil {
			return tms, err
		}
		tms.BoundingBox = &TwoDBoundingBox{LowerLeft: TwoDPoint(lower), UpperRight: TwoDPoint(upper), CRS: crs}
	}

	tms.TileMatrices = make(map[int]TileMatrix, len(set.ZoomLevels))
	validate := validator.New(validator.WithRequiredStructEnabled())
	for i, zl := range set.ZoomLevels {
		tm, err := tileMatrixFromWMTS(zl)
		if err != nil {
			return tms, err
		}
		if err = validate.Struct(&tm); err != nil {
			return tms, fmt.Errorf("invalid tile matrix %q: %w", tm.ID, err)
		}
		key := tileMatrixKey(tm.ID, i)
		if _, exists := tms.TileMatrices[key]; exists {
			return tms, fmt.Errorf("duplicate tile matrix %q", tm.ID)
		}
		tms.TileMatrices[key] = tm
	}

	return tms, validate.Struct(&tms)
}

// tileMatrixFromWMTS reads the fields of zl in a fixed order, so the first missing one is reported
func tileMatrixFromWMTS(zl *capabilities.ZoomLevel) (TileMatrix, error) {
	tm := TileMatrix{ID: zl.Identifier()}
	err := defaults.Set(&tm)
	if err != nil {
		return tm, err
	}
	if tm.ScaleDenominator, err = capabilities.Number[float64](zl, capabilities.ScaleDenominatorField); err != nil {
		return tm, err
	}
	if tm.CellSize, err = capabilities.Number[float64](zl, capabilities.ResolutionField); err != nil {
		return tm, err
	}
	for _, size := range []struct {
		field string
		dst   *uint
	}{
		{capabilities.TileWidthField, &tm.TileWidth},
		{capabilities.TileHeightField, &tm.TileHeight},
		{capabilities.MatrixWidthField, &tm.MatrixWidth},
		{capabilities.MatrixHeightField, &tm.MatrixHeight},
	} {
		if *size.dst, err = capabilities.Number[uint](zl, size.field); err != nil {
			return tm, err
		}
	}
	rawCorner, ok := zl.Get(capabilities.TopLeftCornerField)
	if !ok {
		return tm, &capabilities.MissingFieldError{Field: capabilities.TopLeftCornerField, ZoomLevel: tm.ID}
	}
	corner, err := capabilities.ParseTopLeftCorner(fmt.Sprint(rawCorner))
	if err != nil {
		return tm, err
	}
	tm.PointOfOrigin = TwoDPoint(corner)
	return tm, nil
}

// tileMatrixKey is the zoom level of a tile matrix: its ID when that is an integer, else its position
func tileMatrixKey(id string, position int) int {
	zoom, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return position
	}
	return int(zoom)
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
// For tileset metadata, such a description (in `TileMatrixSet` property) is only required for offline use,
// as an alternative to a link with a `http://www.opengis.net/def/rel/ogc/1.0/tiling-scheme` relation type.
type TileMatrixSet struct {
	// Tile matrix set identifier. Implementation of 'identifier'
	ID string `json:"id,omitempty"`
	// Title of this tile matrix set, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Brief narrative description of this tile matrix set, normally available for display to a human
	Description string `json:"description,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitnil,min=1" json:"orderedAxes,omitempty"`
	// Coordinate Reference System (CRS)
	CRS CRS `validate:"required" json:"-"`
	// Reference to a well-known scale set
	WellKnownScaleSet string `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Minimum bounding rectangle surrounding the tile matrix set, in the supported CRS
	BoundingBox *TwoDBoundingBox `json:"boundingBox,omitempty"`
	// Describes scale levels and its tile matrices, keyed by zoom level
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) MarshalJSON() ([]byte, error) {
	zooms := maps.Keys(tms.TileMatrices)
	slices.Sort(zooms)
	tileMatrices := make([]*TileMatrix, 0, len(zooms))
	for _, zoom := range zooms {
		tm := tms.TileMatrices[zoom]
		tileMatrices = append(tileMatrices, &tm)
	}
	return json.Marshal(struct {
		TileMatrixSet                     // not a pointer, because it would cause recursion to this function
		SpecialCRS          *CRS          `json:"crs"` // pointer, because crs' structs' MarshalJSON funcs are on pointer
		SpecialTileMatrices []*TileMatrix `json:"tileMatrices"`
	}{
		TileMatrixSet:       *tms,
		SpecialCRS:          &tms.CRS,
		SpecialTileMatrices: tileMatrices,
	})
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	// CRS
	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	tms.CRS, err = unmarshalCRS(rawCrs)
	if err != nil {
		return err
	}

	// TileMatrices
	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[int]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(rawTileMatricesList))
	for i, rawTileMatrix := range rawTileMatricesList {
		rawTileMatrixMap, ok := rawTileMatrix.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf(`"tileMatrices" should be objects`)
		}
		var tileMatrix TileMatrix
		err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrixMap)
		if err != nil {
			return nil, err
		}
		key := tileMatrixKey(tileMatrix.ID, i)
		if _, exists := tileMatrices[key]; exists {
			return nil, fmt.Errorf("duplicate tile matrix for zoom level %d: %q", key, tileMatrix.ID)
		}
		tileMatrices[key] = tileMatrix
	}
	return tileMatrices, nil
}

// unmarshalCRS accepts a CRS as a plain URI string or as an object with an "uri" property.
// WKT and ISO 19115 reference system CRSs are not supported.
func unmarshalCRS(rawCrs interface{}) (CRS, error) {
	var rawCrsMap map[string]interface{}
	rawCrsString, asString := rawCrs.(string)
	if asString {
		rawCrsMap = map[string]interface{}{"uri": rawCrsString}
	} else {
		var ok bool
		rawCrsMap, ok = rawCrs.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf(`wrong type key "crs": %T`, rawCrs)
		}
	}

	var uriCrs URICRS
	err := uriCrs.UnmarshalJSONFromMap(rawCrsMap)
	if err != nil {
		return nil, fmt.Errorf(`could not unmarshal crs: %w`, err)
	}
	uriCrs.asString = asString
	return &uriCrs, nil
}

type CRS interface {
	Description() string
	AuthorityName() string
	AuthorityCode() string
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	// matches urn:ogc:def:crs:EPSG::3857, urn:ogc:def:crs:EPSG:6.18:3857 and the (common, but wrong) urn:ogc:def:crs:EPSG:3857
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):(?:[^:]*:)?(?P<code>[^:]+)$")
)

type URICRS struct {
	description string
	// Reference to one coordinate reference system (CRS)
	uri           string `validate:"required,uri"`
	authorityName string `validate:"required"`
	authorityCode string `validate:"required"`
	// Whether it should be marshalled as just a string
	asString bool
}

func (crs *URICRS) MarshalJSON() ([]byte, error) {
	if crs.asString {
		return json.Marshal(crs.uri)
	}
	return json.Marshal(struct {
		Description string `json:"description,omitempty"`
		URI         string `json:"uri"`
	}{
		Description: crs.description,
		URI:         crs.uri,
	})
}

func (crs *URICRS) UnmarshalJSON(data []byte) error {
	return UnmarshalJSONMapUsingUnmarshalJSONFromMap(crs, data)
}

func (crs *URICRS) UnmarshalJSONFromMap(data interface{}) error {
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`data is not a map but a %T`, data)
	}

	rawDescription, ok := dataMap["description"]
	if ok {
		crs.description, ok = rawDescription.(string)
		if !ok {
			return fmt.Errorf(`description property is not a string but a %T`, rawDescription)
		}
	}

	rawURI, ok := dataMap["uri"]
	if !ok {
		return fmt.Errorf(`uri property not found`)
	}
	uri, ok := rawURI.(string)
	if !ok {
		return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}
	return crs.parseURI(uri)
}

func (crs *URICRS) parseURI(uri string) error {
	crs.uri = uri
	uriParts := crsURIRegexURL.FindStringSubmatch(crs.uri)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.uri)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.uri)
	}
	crs.authorityName = uriParts[1]
	crs.authorityCode = uriParts[2]
	return nil
}

func (crs *URICRS) Description() string {
	return crs.description
}

func (crs *URICRS) AuthorityName() string {
	return crs.authorityName
}

func (crs *URICRS) AuthorityCode() string {
	return crs.authorityCode
}

// Minimum bounding rectangle surrounding a 2D resource in the CRS indicated elsewhere
type TwoDBoundingBox struct {
	LowerLeft   TwoDPoint `validate:"required" json:"lowerLeft"`
	UpperRight  TwoDPoint `validate:"required" json:"upperRight"`
	CRS         CRS       `json:"-"`
	OrderedAxes []string  `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
}

func (bb *TwoDBoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TwoDBoundingBox      // not a pointer, because it would cause recursion to this function
		SpecialCRS      *CRS `json:"crs,omitempty"` // pointer, because crs' structs' MarshalJSON funcs are on pointer
	}{
		TwoDBoundingBox: *bb,
		SpecialCRS:      &bb.CRS,
	})
}

func (bb *TwoDBoundingBox) UnmarshalJSON(data []byte) error {
	specials, err := marshmallow.Unmarshal(data, bb, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	// CRS is optional, it defaults to the CRS of the tile matrix set
	if rawCrs, ok := specials["crs"]; ok {
		bb.CRS, err = unmarshalCRS(rawCrs)
		if err != nil {
			return err
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(bb)
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

func (p TwoDPoint) XY() [2]float64 {
	return p
}

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet and representing the scaleDenominator the tile.
	// Implementation of 'identifier'
	ID string `validate:"required" json:"id"`
	// Title of this tile matrix, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Brief narrative description of this tile matrix set, normally available for display to a human
	Description string `json:"description,omitempty"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner of the tile matrix (_topLeft_ or _bottomLeft_) used as the origin for numbering tile rows and columns.
	// This corner is also a corner of the (0, 0) tile.
	CornerOfOrigin CornerOfOrigin `validate:"omitempty,oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty" default:"topLeft"`
	// Precise position in CRS coordinates of the corner of origin (e.g. the top-left corner) for this tile matrix.
	// In WMTS 1.0 this is 'TopLeftCorner'.
	PointOfOrigin TwoDPoint `validate:"required" json:"pointOfOrigin"`
	// Width of each tile of this tile matrix in pixels
	TileWidth uint `validate:"required,min=1" json:"tileWidth"`
	// Height of each tile of this tile matrix in pixels
	TileHeight uint `validate:"required,min=1" json:"tileHeight"`
	// Width of the matrix (number of tiles in width)
	MatrixWidth uint `validate:"required,min=1" json:"matrixWidth"`
	// Height of the matrix (number of tiles in height)
	MatrixHeight uint `validate:"required,min=1" json:"matrixHeight"`
}

func (tm *TileMatrix) UnmarshalJSON(data []byte) error {
	return UnmarshalJSONMapUsingUnmarshalJSONFromMap(tm, data)
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}

	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`data is not a map but a %T`, data)
	}

	_, err = marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSON(data []byte) error {
	var dataString string
	err := json.Unmarshal(data, &dataString)
	if err != nil {
		return fmt.Errorf(`CornerOfOrigin data is not a string: %w`, err)
	}
	return c.UnmarshalJSONFromMap(dataString)
}

func (c *CornerOfOrigin) UnmarshalJSONFromMap(data interface{}) error {
	dataString, ok := data.(string)
	if !ok {
		return fmt.Errorf(`CornerOfOrigin data is not a string but a %T`, data)
	}
	switch dataString {
	case "":
		fallthrough
	case string(TopLeft):
		*c = TopLeft
	case string(BottomLeft):
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown CornerOfOrigin: %v`, data)
	}
	return nil
}

// SRID is the authority code of the CRS as a number, e.g. 3857 for EPSG:3857.
// Codes like OGC's CRS84 have none.
func (tms *TileMatrixSet) SRID() (uint, error) {
	code, err := strconv.ParseUint(tms.CRS.AuthorityCode(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf(`crs %s:%s has no numeric code: %w`, tms.CRS.AuthorityName(), tms.CRS.AuthorityCode(), err)
	}
	return uint(code), nil
}

func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

func (tms *TileMatrixSet) FromNative(zoom uint, pt geom.Point) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}

	// TODO use big decimals to prevent floating point rounding errors
	tileSizeX := float64(tm.TileWidth) * tm.CellSize
	minX := tm.PointOfOrigin.XY()[0]
	x := int((pt.X() - minX) / tileSizeX)
	if pt.X() < minX {
		return nil, false
	}
	ux := uint(x)
	if ux >= tm.MatrixWidth {
		return nil, false
	}

	tileSizeY := float64(tm.TileHeight) * tm.CellSize
	var y int
	switch tm.CornerOfOrigin {
	default:
		fallthrough
	case TopLeft:
		maxY := tm.PointOfOrigin.XY()[1]
		if pt.Y() > maxY {
			return nil, false
		}
		y = int((maxY - pt.Y()) / tileSizeY)
	case BottomLeft:
		minY := tm.PointOfOrigin.XY()[1]
		if pt.Y() < minY {
			return nil, false
		}
		y = int((pt.Y() - minY) / tileSizeY)
	}
	uy := uint(y)
	if uy >= tm.MatrixHeight {
		return nil, false
	}

	return slippy.NewTile(zoom, ux, uy), true
}

func (tms *TileMatrixSet) ToNative(tile *slippy.Tile) (geom.Point, bool) {
	topLeftPt := geom.Point{}
	tm, ok := tms.TileMatrices[int(tile.Z)]
	if !ok {
		return topLeftPt, false
	}
	if tile.X > tm.MatrixWidth || tile.Y > tm.MatrixHeight {
		// >, not >= because "should be able to take tiles with x and y values 1 higher than the max"
		return topLeftPt, false
	}

	tileSizeX := float64(tm.TileWidth) * tm.CellSize
	minX := tm.PointOfOrigin.XY()[0]
	topLeftPt[0] = minX + float64(tile.X)*tileSizeX

	tileSizeY := float64(tm.TileHeight) * tm.CellSize
	switch tm.CornerOfOrigin {
	default:
		fallthrough
	case TopLeft:
		maxY := tm.PointOfOrigin.XY()[1]
		topLeftPt[1] = maxY - float64(tile.Y)*tileSizeY
	case BottomLeft:
		minY := tm.PointOfOrigin.XY()[1]
		topLeftPt[1] = minY + float64(tile.Y+1)*tileSizeY
	}

	return topLeftPt, true
}

func UnmarshalJSONMapUsingUnmarshalJSONFromMap(target marshmallow.UnmarshalerFromJSONMap, data []byte) error {
	var dataMap map[string]interface{}
	err := json.Unmarshal(data, &dataMap)
	if err != nil {
		return err
	}
	return target.UnmarshalJSONFromMap(dataMap)
}
