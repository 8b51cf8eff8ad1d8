// Package report renders the zoom levels of a tile matrix set.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdok/wmtspyramid/capabilities"
	"github.com/pdok/wmtspyramid/tms20"

	"github.com/mattn/go-runewidth"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const columnSeparator = " | "

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatTMS20 = "tms20"
)

// Formats accepted by Write
var Formats = []string{FormatTable, FormatJSON, FormatTMS20}

var tableHeader = []string{"Zoom level", "Scale denominator", "Resolution"}

// Write renders set in the given format, see Formats.
// Nothing is written when the set cannot be rendered.
func Write(w io.Writer, format string, set *capabilities.MatrixSet) error {
	switch format {
	case FormatTable:
		return Table(w, set.ZoomLevels)
	case FormatJSON:
		return JSON(w, set)
	case FormatTMS20:
		return TMS20(w, set)
	default:
		return fmt.Errorf("unknown format %q, use one of: %s", format, strings.Join(Formats, ", "))
	}
}

// Table writes one row per zoom level, in the given order:
//
//	Zoom level | Scale denominator | Resolution
//
// Columns are padded to their widest cell. Missing fields render as empty cells.
func Table(w io.Writer, zoomLevels []*capabilities.ZoomLevel) error {
	rows := make([][]string, 0, len(zoomLevels)+1)
	rows = append(rows, tableHeader)
	for _, zl := range zoomLevels {
		rows = append(rows, []string{
			zl.Identifier(),
			field(zl, capabilities.ScaleDenominatorField),
			field(zl, capabilities.ResolutionField),
		})
	}

	widths := make([]int, len(tableHeader))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString(columnSeparator)
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatValue renders a coerced field value. Floats use the shortest
// representation that round-trips, without exponent.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func field(zl *capabilities.ZoomLevel, tag string) string {
	value, _ := zl.Get(tag)
	return FormatValue(value)
}

type matrixSetJSON struct {
	Identifier    string                              `json:"identifier"`
	Fields        *orderedmap.OrderedMap[string, any] `json:"fields"`
	TopLeftCorner capabilities.TopLeftCorner          `json:"topLeftCorner"`
	ZoomLevels    []*capabilities.ZoomLevel           `json:"zoomLevels"`
}

// JSON writes the matrix set with all fields of every zoom level, in document order.
func JSON(w io.Writer, set *capabilities.MatrixSet) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(matrixSetJSON{
		Identifier:    set.Identifier,
		Fields:        set.Fields,
		TopLeftCorner: set.TopLeftCorner,
		ZoomLevels:    set.ZoomLevels,
	})
}

// TMS20 writes set as an OGC Two Dimensional Tile Matrix Set (v2.0) JSON document.
// The resolutions must have been computed. The document is read back and
// validated before anything is written.
func TMS20(w io.Writer, set *capabilities.MatrixSet) error {
	tms, err := tms20.FromWMTS(set)
	if err != nil {
		return err
	}
	data, err := json.Marshal(&tms)
	if err != nil {
		return err
	}
	var reread tms20.TileMatrixSet
	if err = json.Unmarshal(data, &reread); err != nil {
		return fmt.Errorf("tile matrix set %s is not a valid TMS 2.0 document: %w", tms.ID, err)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&reread)
}
