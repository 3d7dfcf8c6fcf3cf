package locate

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorFloorplanRenderer renders the floorplan as vector graphics
type VectorFloorplanRenderer struct {
	Grid        *RegionGrid
	Points      []Point
	Labels      []string
	Colors      map[string]string
	Live        map[string]*Location
	Scale       float64           // Millimeters per floorplan unit
	Padding     float64           // Padding in millimeters
	Resolution  canvas.Resolution // Resolution for PNG output
	GridSpacing float64           // Grid line spacing in floorplan units; 0 disables
}

// NewVectorFloorplanRenderer creates a vector renderer with default settings
func NewVectorFloorplanRenderer(est *FloorplanEstimator, colors map[string]string) (*VectorFloorplanRenderer, error) {
	raster, err := NewFloorplanRenderer(est, colors)
	if err != nil {
		return nil, err
	}
	return &VectorFloorplanRenderer{
		Grid:        raster.Grid,
		Points:      raster.Points,
		Labels:      raster.Labels,
		Colors:      raster.Colors,
		Scale:       10.0,
		Padding:     20.0,
		Resolution:  canvas.DPI(96),
		GridSpacing: 10.0,
	}, nil
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the floorplan as an SVG to the provided writer
func (r *VectorFloorplanRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, width, height := r.canvasBounds()

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)

	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing floorplan svg: %w", err)
	}
	return nil
}

// RenderToPNG writes the floorplan as a PNG to the provided writer
func (r *VectorFloorplanRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, width, height := r.canvasBounds()

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)

	return png.Encode(w, rast)
}

// canvasBounds returns the world origin and the canvas size in millimeters
func (r *VectorFloorplanRenderer) canvasBounds() (minX, minY, width, height float64) {
	fr := &FloorplanRenderer{Grid: r.Grid, Points: r.Points, Live: r.Live}
	minX, minY, maxX, maxY := fr.bounds()
	for _, loc := range r.Live {
		if loc.Position != nil {
			minX, maxX = math.Min(minX, loc.Position.X), math.Max(maxX, loc.Position.X)
			minY, maxY = math.Min(minY, loc.Position.Y), math.Max(maxY, loc.Position.Y)
		}
	}
	width = (maxX-minX)*r.Scale + 2*r.Padding
	height = (maxY-minY)*r.Scale + 2*r.Padding
	return minX, minY, width, height
}

func (r *VectorFloorplanRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		return (p.X-minX)*r.Scale + r.Padding, (p.Y-minY)*r.Scale + r.Padding
	}

	// Regions, one rectangle per horizontal run of equal labels
	if g := r.Grid; g != nil {
		for row := 0; row < g.Rows; row++ {
			for col := 0; col < g.Cols; {
				label := g.At(col, row)
				end := col + 1
				for end < g.Cols && g.At(end, row) == label {
					end++
				}
				if label != g.Outlier {
					rc := parseHexColor(r.Colors[label])
					style := canvas.DefaultStyle
					style.Fill = canvas.Paint{Color: nrgbaToRGBA(color.NRGBA{rc.R, rc.G, rc.B, 110})}
					style.Stroke = canvas.Paint{Color: canvas.Transparent}

					x0, y0 := toCanvas(g.CellOrigin(col, row))
					rect := canvas.Rectangle(float64(end-col)*g.Step*r.Scale, g.Step*r.Scale)
					renderer.RenderPath(rect.Translate(x0, y0), style, canvas.Identity)
				}
				col = end
			}
		}
	}

	if r.GridSpacing > 0 && r.Grid != nil {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		top := r.Grid.CellOrigin(r.Grid.Cols, r.Grid.Rows)
		for x := math.Ceil(r.Grid.MinX/r.GridSpacing) * r.GridSpacing; x <= top.X; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: x, Y: r.Grid.MinY})
			x2, y2 := toCanvas(Point{X: x, Y: top.Y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(r.Grid.MinY/r.GridSpacing) * r.GridSpacing; y <= top.Y; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: r.Grid.MinX, Y: y})
			x2, y2 := toCanvas(Point{X: top.X, Y: y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	for i, p := range r.Points {
		label := ""
		if i < len(r.Labels) {
			label = r.Labels[i]
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: parseHexColor(r.Colors[label])}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		cx, cy := toCanvas(p)
		renderer.RenderPath(canvas.Circle(0.8).Translate(cx, cy), style, canvas.Identity)
	}

	for _, id := range sortedLocationIDs(r.Live) {
		loc := r.Live[id]
		if loc.Position == nil {
			continue
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: parseHexColor(r.Colors[loc.Room])}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.5

		cx, cy := toCanvas(*loc.Position)
		renderer.RenderPath(canvas.Circle(2.5).Translate(cx, cy), style, canvas.Identity)
	}
}

// nrgbaToRGBA premultiplies alpha as canvas expects
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}
