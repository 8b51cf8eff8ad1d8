package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/pdok/wmtspyramid/capabilities"
	"github.com/pdok/wmtspyramid/report"
	"github.com/pdok/wmtspyramid/resolution"
	"github.com/pdok/wmtspyramid/tms20"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"
)

const URL string = `url`
const TILEMATRIXSET string = `tilematrixset`
const STRATEGY string = `strategy`
const FORMAT string = `format`
const TIMEOUT string = `timeout`
const VERBOSE string = `verbose`
const ZOOM string = `zoom`
const X string = `x`
const Y string = `y`

const defaultURL = `https://wmts10.geo.admin.ch/EPSG/3857/1.0.0/WMTSCapabilities.xml`
const defaultTileMatrixSet = `3857_18`

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

//nolint:funlen
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "wmtspyramid"
	app.Usage = "Derive tile pyramid parameters (zoom levels, resolutions) from a WMTS GetCapabilities document"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    URL,
			Aliases: []string{"u"},
			Usage:   "URL of the WMTS GetCapabilities document, or a path to a local copy",
			Value:   defaultURL,
			EnvVars: []string{strcase.ToScreamingSnake(URL)},
		},
		&cli.StringFlag{
			Name:    TILEMATRIXSET,
			Aliases: []string{"tms"},
			Usage:   "Identifier of the tile matrix set in the capabilities document",
			Value:   defaultTileMatrixSet,
			EnvVars: []string{strcase.ToScreamingSnake(TILEMATRIXSET)},
		},
		&cli.StringFlag{
			Name:    STRATEGY,
			Aliases: []string{"s"},
			Usage: fmt.Sprintf("How to compute resolutions, one of: %s. "+
				"'geometric' divides twice the top left corner's y by the pixel width of a tile matrix, "+
				"'standard-pixel-size' multiplies the scale denominator by 0.28 mm. "+
				"These differ for grids that are not symmetric around the origin",
				strings.Join(resolution.Names(), ", ")),
			Value:   resolution.GeometricName,
			EnvVars: []string{strcase.ToScreamingSnake(STRATEGY)},
		},
		&cli.StringFlag{
			Name:    FORMAT,
			Aliases: []string{"f"},
			Usage:   fmt.Sprintf("Output format, one of: %s", strings.Join(report.Formats, ", ")),
			Value:   report.FormatTable,
			EnvVars: []string{strcase.ToScreamingSnake(FORMAT)},
		},
		&cli.DurationFlag{
			Name:    TIMEOUT,
			Usage:   "Timeout for fetching the capabilities document",
			Value:   30 * time.Second,
			EnvVars: []string{strcase.ToScreamingSnake(TIMEOUT)},
		},
		&cli.BoolFlag{
			Name:    VERBOSE,
			Usage:   "Log every element of the capabilities document, indented by depth",
			EnvVars: []string{strcase.ToScreamingSnake(VERBOSE)},
		},
	}

	app.Action = func(c *cli.Context) error {
		if !slices.Contains(report.Formats, c.String(FORMAT)) {
			return fmt.Errorf("unknown format %q, use one of: %s", c.String(FORMAT), strings.Join(report.Formats, ", "))
		}
		set, err := loadMatrixSet(c)
		if err != nil {
			return err
		}
		return report.Write(c.App.Writer, c.String(FORMAT), set)
	}

	app.Commands = []*cli.Command{
		{
			Name:  "list",
			Usage: "List the identifiers of the tile matrix sets in the capabilities document",
			Action: func(c *cli.Context) error {
				doc, err := loadCapabilities(c)
				if err != nil {
					return err
				}
				for _, id := range capabilities.MatrixSetIdentifiers(doc) {
					fmt.Fprintln(c.App.Writer, id)
				}
				return nil
			},
		},
		{
			Name:  "locate",
			Usage: "Print the tile (z/x/y) of the tile matrix set that contains a point, and the tile's top left corner",
			Flags: []cli.Flag{
				&cli.UintFlag{
					Name:     ZOOM,
					Aliases:  []string{"z"},
					Usage:    "Zoom level, the tile matrix identifier (or position when identifiers are not integers)",
					Required: true,
				},
				&cli.Float64Flag{
					Name:     X,
					Usage:    "X coordinate in the CRS of the tile matrix set",
					Required: true,
				},
				&cli.Float64Flag{
					Name:     Y,
					Usage:    "Y coordinate in the CRS of the tile matrix set",
					Required: true,
				},
			},
			Action: func(c *cli.Context) error {
				set, err := loadMatrixSet(c)
				if err != nil {
					return err
				}
				tms, err := tms20.FromWMTS(set)
				if err != nil {
					return err
				}
				size, ok := tms.Size(c.Uint(ZOOM))
				if !ok {
					return fmt.Errorf("tile matrix set %s has no zoom level %d", tms.ID, c.Uint(ZOOM))
				}
				if srid, err := tms.SRID(); err == nil {
					log.Printf("zoom level %d of %s is %dx%d tiles in %s:%d",
						size.Z, tms.ID, size.X, size.Y, tms.CRS.AuthorityName(), srid)
				} else {
					log.Printf("zoom level %d of %s is %dx%d tiles, %v", size.Z, tms.ID, size.X, size.Y, err)
				}
				tile, ok := tms.FromNative(c.Uint(ZOOM), geom.Point{c.Float64(X), c.Float64(Y)})
				if !ok {
					return fmt.Errorf("point (%v, %v) is outside zoom level %d of tile matrix set %s",
						c.Float64(X), c.Float64(Y), c.Uint(ZOOM), tms.ID)
				}
				return printTile(c, &tms, tile)
			},
		},
	}
	return app
}

func loadCapabilities(c *cli.Context) (*capabilities.Element, error) {
	timeout := c.Duration(TIMEOUT)
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	log.Printf("loading capabilities from %s", c.String(URL))
	client := &http.Client{Timeout: timeout}
	doc, err := capabilities.Load(ctx, client, c.String(URL))
	if err != nil {
		return nil, err
	}
	if c.Bool(VERBOSE) {
		logElements(doc)
	}
	return doc, nil
}

func logElements(doc *capabilities.Element) {
	log.Println(doc.Name)
	capabilities.Walk(doc, func(depth int, element *capabilities.Element) {
		log.Printf("%s%s: %s", strings.Repeat(" ", depth+1), element.Name,
			report.FormatValue(capabilities.Coerce(element.Text)))
	})
}

func loadMatrixSet(c *cli.Context) (*capabilities.MatrixSet, error) {
	strategy, err := resolution.ParseStrategy(c.String(STRATEGY))
	if err != nil {
		return nil, err
	}
	doc, err := loadCapabilities(c)
	if err != nil {
		return nil, err
	}
	set, err := capabilities.ExtractMatrixSet(doc, c.String(TILEMATRIXSET))
	if err != nil {
		return nil, err
	}
	log.Printf("found %d zoom levels in tile matrix set %s", len(set.ZoomLevels), set.Identifier)

	err = resolution.ComputeResolutions(set.ZoomLevels, set.TopLeftCorner, strategy)
	if err != nil {
		return nil, fmt.Errorf("could not compute %s resolutions: %w", c.String(STRATEGY), err)
	}
	return set, nil
}

func printTile(c *cli.Context, tms *tms20.TileMatrixSet, tile *slippy.Tile) error {
	topLeft, ok := tms.ToNative(tile)
	if !ok {
		return fmt.Errorf("tile %d/%d/%d is outside tile matrix set %s", tile.Z, tile.X, tile.Y, tms.ID)
	}
	_, err := fmt.Fprintf(c.App.Writer, "%d/%d/%d %s %s\n",
		tile.Z, tile.X, tile.Y,
		report.FormatValue(topLeft.X()), report.FormatValue(topLeft.Y()))
	return err
}

