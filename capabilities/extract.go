package capabilities

import (
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/constraints"
)

const (
	identifierTag    = "Identifier"
	tileMatrixTag    = "TileMatrix"
	tileMatrixSetTag = "TileMatrixSet"
	contentsTag      = "Contents"

	TopLeftCornerField    = "TopLeftCorner"
	ScaleDenominatorField = "ScaleDenominator"
	TileWidthField        = "TileWidth"
	TileHeightField       = "TileHeight"
	MatrixWidthField      = "MatrixWidth"
	MatrixHeightField     = "MatrixHeight"
	ResolutionField       = "Resolution"
)

// MatrixSet is a tile matrix set as found in a capabilities document.
type MatrixSet struct {
	Identifier string
	// Fields holds the leaf elements between the Identifier and the first TileMatrix,
	// e.g. SupportedCRS and WellKnownScaleSet
	Fields        *orderedmap.OrderedMap[string, any]
	ZoomLevels    []*ZoomLevel
	TopLeftCorner TopLeftCorner
}

// TopLeftCorner of the first zoom level, in CRS units
type TopLeftCorner [2]float64

func (c TopLeftCorner) X() float64 {
	return c[0]
}

func (c TopLeftCorner) Y() float64 {
	return c[1]
}

// ZoomLevel holds the fields of one TileMatrix in document order.
// Values are int64, float64 or string, see Coerce.
type ZoomLevel struct {
	matrixSet string
	fields    *orderedmap.OrderedMap[string, any]
}

func newZoomLevel(matrixSet string) *ZoomLevel {
	return &ZoomLevel{matrixSet: matrixSet, fields: orderedmap.New[string, any]()}
}

func (z *ZoomLevel) Get(tag string) (any, bool) {
	return z.fields.Get(tag)
}

// Set overwrites an existing field in place or appends a new one
func (z *ZoomLevel) Set(tag string, value any) {
	z.fields.Set(tag, value)
}

func (z *ZoomLevel) Len() int {
	return z.fields.Len()
}

// Identifier of the TileMatrix, empty if it has none
func (z *ZoomLevel) Identifier() string {
	id, ok := z.fields.Get(identifierTag)
	if !ok {
		return ""
	}
	return fmt.Sprint(id)
}

func (z *ZoomLevel) MarshalJSON() ([]byte, error) {
	return z.fields.MarshalJSON()
}

func (z *ZoomLevel) label() string {
	if id := z.Identifier(); id != "" {
		return id
	}
	return "<unidentified>"
}

// Number returns a numeric field of the zoom level as a T.
// A missing field is a MissingFieldError, a field that is not a number
// or does not fit in T is a ParseError.
func Number[T constraints.Integer | constraints.Float](z *ZoomLevel, tag string) (T, error) {
	value, ok := z.fields.Get(tag)
	if !ok {
		return 0, &MissingFieldError{Field: tag, MatrixSet: z.matrixSet, ZoomLevel: z.label()}
	}
	var n T
	var f float64
	switch v := value.(type) {
	case int64:
		n, f = T(v), float64(v)
	case float64:
		n, f = T(v), v
	default:
		return 0, &ParseError{Err: fmt.Errorf("field %q of zoom level %q is not a number: %q", tag, z.label(), v)}
	}
	if float64(n) != f {
		return 0, &ParseError{Err: fmt.Errorf("field %q of zoom level %q is out of range: %v", tag, z.label(), value)}
	}
	return n, nil
}

// ExtractMatrixSet walks doc depth-first in document order and collects the
// zoom levels of the tile matrix set with the given identifier.
//
// Once an Identifier matching identifier is seen, every following TileMatrix
// in that element's sibling span (and below) starts a new zoom level. Recording
// stays on for the rest of that span, so it never spills into tile matrix sets
// that come after the target one.
func ExtractMatrixSet(doc *Element, identifier string) (*MatrixSet, error) {
	x := extraction{set: &MatrixSet{
		Identifier: identifier,
		Fields:     orderedmap.New[string, any](),
	}}
	x.walk(doc.Children, false, false)

	set := x.set
	if len(set.ZoomLevels) == 0 {
		field := tileMatrixTag
		if !x.matched {
			field = identifierTag
		}
		return nil, &MissingFieldError{Field: field, MatrixSet: identifier, Available: MatrixSetIdentifiers(doc)}
	}

	first := set.ZoomLevels[0]
	rawCorner, ok := first.Get(TopLeftCornerField)
	if !ok {
		return nil, &MissingFieldError{Field: TopLeftCornerField, MatrixSet: identifier, ZoomLevel: first.label()}
	}
	corner, err := ParseTopLeftCorner(fmt.Sprint(rawCorner))
	if err != nil {
		return nil, err
	}
	set.TopLeftCorner = corner
	return set, nil
}

type extraction struct {
	set     *MatrixSet
	matched bool
}

// walk passes found and recording down by value: a flag set in a sibling span
// holds for the later siblings and their subtrees, not for the ancestors' siblings.
func (x *extraction) walk(elements []*Element, found, recording bool) {
	for _, element := range elements {
		switch {
		case found && element.Name == tileMatrixTag:
			recording = true
			x.set.ZoomLevels = append(x.set.ZoomLevels, newZoomLevel(x.set.Identifier))
		case recording:
			x.set.ZoomLevels[len(x.set.ZoomLevels)-1].Set(element.Name, Coerce(element.Text))
		case found:
			if len(element.Children) == 0 {
				x.set.Fields.Set(element.Name, Coerce(element.Text))
			}
		case element.Name == identifierTag && element.Text == x.set.Identifier && !x.recorded():
			found = true
			x.matched = true
			if len(x.set.ZoomLevels) == 0 {
				// an earlier match (e.g. a layer with the same name) had no tile matrices
				x.set.Fields = orderedmap.New[string, any]()
			}
		}
		x.walk(element.Children, found, recording)
	}
}

// recorded reports whether the target set has been found with tile matrices,
// later elements carrying the same Identifier are ignored from then on
func (x *extraction) recorded() bool {
	return x.matched && len(x.set.ZoomLevels) > 0
}

// ParseTopLeftCorner parses a whitespace separated coordinate pair, e.g. "-20037508.3428 20037508.3428"
func ParseTopLeftCorner(text string) (TopLeftCorner, error) {
	var corner TopLeftCorner
	parts := strings.Fields(text)
	if len(parts) != len(corner) {
		return corner, &ParseError{Err: fmt.Errorf("%s should be two coordinates, got %q", TopLeftCornerField, text)}
	}
	for i, part := range parts {
		coord, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return corner, &ParseError{Err: fmt.Errorf("invalid %s coordinate %q: %w", TopLeftCornerField, part, err)}
		}
		corner[i] = coord
	}
	return corner, nil
}

// MatrixSetIdentifiers lists the identifiers of all tile matrix sets in Contents, in document order
func MatrixSetIdentifiers(doc *Element) []string {
	contents := doc.Child(contentsTag)
	if contents == nil {
		return nil
	}
	var ids []string
	for _, tms := range contents.ChildrenNamed(tileMatrixSetTag) {
		if id := tms.Child(identifierTag); id != nil {
			ids = append(ids, id.Text)
		}
	}
	return ids
}
