package locate

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultRoomPalette is used for rooms without a configured color
var DefaultRoomPalette = []string{
	"#6495ED", // Cornflower blue
	"#FF6347", // Tomato
	"#90EE90", // Light green
	"#FFD700", // Gold
	"#BA55D3", // Medium orchid
	"#40E0D0", // Turquoise
	"#F4A460", // Sandy brown
	"#FF69B4", // Hot pink
}

// AssignRoomColors returns a hex color for every room. Configured colors win;
// the remaining rooms get palette colors in sorted order.
func AssignRoomColors(rooms []string, configured map[string]string) map[string]string {
	sorted := append([]string(nil), rooms...)
	sort.Strings(sorted)

	colors := make(map[string]string, len(sorted))
	i := 0
	for _, room := range sorted {
		if c, ok := configured[room]; ok && c != "" {
			colors[room] = c
			continue
		}
		colors[room] = DefaultRoomPalette[i%len(DefaultRoomPalette)]
		i++
	}
	return colors
}

// FloorplanRenderer draws estimated room regions, the projected training
// samples and live scanner positions into a raster image.
type FloorplanRenderer struct {
	Grid    *RegionGrid
	Points  []Point
	Labels  []string
	Colors  map[string]string // hex colors keyed by room
	Live    map[string]*Location
	Scale   float64 // Pixels per floorplan unit
	Padding int
}

// NewFloorplanRenderer creates a renderer for a fitted estimator
func NewFloorplanRenderer(est *FloorplanEstimator, colors map[string]string) (*FloorplanRenderer, error) {
	grid, err := est.Regions()
	if err != nil {
		return nil, err
	}
	points, labels := est.Samples()

	rooms := grid.Rooms()
	seen := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		seen[r] = struct{}{}
	}
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			rooms = append(rooms, l)
		}
	}

	return &FloorplanRenderer{
		Grid:    grid,
		Points:  points,
		Labels:  labels,
		Colors:  AssignRoomColors(rooms, colors),
		Scale:   20,
		Padding: 30,
	}, nil
}

// bounds returns the extent of the grid and all sample points
func (r *FloorplanRenderer) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64

	extend := func(p Point) {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	if r.Grid != nil {
		extend(Point{X: r.Grid.MinX, Y: r.Grid.MinY})
		extend(r.Grid.CellOrigin(r.Grid.Cols, r.Grid.Rows))
	}
	for _, p := range r.Points {
		extend(p)
	}
	if minX > maxX {
		return 0, 0, 0, 0
	}
	return
}

// Render creates the floorplan image
func (r *FloorplanRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.bounds()

	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	width := int((maxX-minX)*scale) + 2*r.Padding
	height := int((maxY-minY)*scale) + 2*r.Padding

	// Limit size
	if width > 4000 {
		scale *= float64(4000) / float64(width)
		width = 4000
		height = int((maxY-minY)*scale) + 2*r.Padding
	}
	if height > 4000 {
		scale *= float64(4000) / float64(height)
		height = 4000
		width = int((maxX-minX)*scale) + 2*r.Padding
	}
	if width <= 0 {
		width = 2*r.Padding + 1
	}
	if height <= 0 {
		height = 2*r.Padding + 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{240, 240, 240, 255})
		}
	}

	// Floorplan Y grows upwards, image Y grows downwards
	toImage := func(p Point) (int, int) {
		x := int((p.X-minX)*scale) + r.Padding
		y := height - r.Padding - int((p.Y-minY)*scale)
		return x, y
	}

	// First pass: region cells (semi-transparent)
	if g := r.Grid; g != nil {
		for row := 0; row < g.Rows; row++ {
			for col := 0; col < g.Cols; col++ {
				label := g.At(col, row)
				if label == g.Outlier {
					continue
				}
				rc := parseHexColor(r.Colors[label])
				fill := color.NRGBA{rc.R, rc.G, rc.B, 110}
				x0, y1 := toImage(g.CellOrigin(col, row))
				x1, y0 := toImage(g.CellOrigin(col+1, row+1))
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						if x >= 0 && x < width && y >= 0 && y < height {
							img.Set(x, y, blendColors(img.RGBAAt(x, y), fill))
						}
					}
				}
			}
		}
	}

	// Second pass: training samples
	for i, p := range r.Points {
		ix, iy := toImage(p)
		label := ""
		if i < len(r.Labels) {
			label = r.Labels[i]
		}
		drawCircle(img, ix, iy, 2, parseHexColor(r.Colors[label]))
	}

	// Third pass: live scanners
	for _, id := range sortedLocationIDs(r.Live) {
		loc := r.Live[id]
		if loc.Position == nil {
			continue
		}
		ix, iy := toImage(*loc.Position)
		drawSquare(img, ix, iy, 10, color.RGBA{0, 0, 0, 255})
		drawSquare(img, ix, iy, 6, parseHexColor(r.Colors[loc.Room]))
		drawText(img, ix+8, iy+4, id, color.RGBA{0, 0, 0, 255})
	}

	r.drawLegend(img)
	return img
}

// SavePNG saves the floorplan image to a file
func (r *FloorplanRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.WritePNG(f)
}

// WritePNG encodes the floorplan image as PNG
func (r *FloorplanRenderer) WritePNG(w io.Writer) error {
	if err := png.Encode(w, r.Render()); err != nil {
		return fmt.Errorf("encoding floorplan png: %w", err)
	}
	return nil
}

// drawLegend adds a color swatch and label for each room
func (r *FloorplanRenderer) drawLegend(img *image.RGBA) {
	rooms := make([]string, 0, len(r.Colors))
	for room := range r.Colors {
		if r.Grid != nil && room == r.Grid.Outlier {
			continue
		}
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	y := 15
	for _, room := range rooms {
		c := parseHexColor(r.Colors[room])
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-6, c)
			}
		}
		drawText(img, 28, y+4, room, color.RGBA{0, 0, 0, 255})
		y += 18
	}
}

func sortedLocationIDs(locations map[string]*Location) []string {
	ids := make([]string, 0, len(locations))
	for id := range locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*invAlpha),
		A: 255,
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B"; malformed input is grey
func parseHexColor(hex string) color.RGBA {
	fallback := color.RGBA{128, 128, 128, 255}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return fallback
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return fallback
	}
	return color.RGBA{r, g, b, 255}
}
