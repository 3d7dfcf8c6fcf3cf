package locate

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// RegionFeatures outlines each room of the grid as the convex hull of its
// cells. Rooms that only appear among the training samples fall back to the
// hull of their samples, or a MultiPoint when fewer than three exist.
func RegionFeatures(grid *RegionGrid, points []Point, labels []string, colors map[string]string) (*geojson.FeatureCollection, error) {
	if len(points) != len(labels) {
		return nil, fmt.Errorf("got %d labels for %d points", len(labels), len(points))
	}

	corners := make(map[string][]orb.Point)
	if grid != nil {
		for row := 0; row < grid.Rows; row++ {
			for col := 0; col < grid.Cols; col++ {
				label := grid.At(col, row)
				if label == grid.Outlier {
					continue
				}
				for _, d := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
					p := grid.CellOrigin(col+d[0], row+d[1])
					corners[label] = append(corners[label], orb.Point{p.X, p.Y})
				}
			}
		}
	}

	samples := make(map[string][]orb.Point)
	for i, p := range points {
		samples[labels[i]] = append(samples[labels[i]], orb.Point{p.X, p.Y})
	}

	rooms := make([]string, 0, len(corners)+len(samples))
	seen := make(map[string]bool)
	for _, set := range []map[string][]orb.Point{corners, samples} {
		for room := range set {
			if !seen[room] && (grid == nil || room != grid.Outlier) {
				seen[room] = true
				rooms = append(rooms, room)
			}
		}
	}
	sort.Strings(rooms)

	fc := geojson.NewFeatureCollection()
	for _, room := range rooms {
		pts := corners[room]
		if len(pts) == 0 {
			pts = samples[room]
		}

		var geom orb.Geometry
		hull := convexHull(pts)
		if len(hull) < 3 {
			geom = orb.MultiPoint(hull)
		} else {
			hull = append(hull, hull[0])
			poly := orb.Polygon{orb.Ring(hull)}
			if simplified, ok := simplify.DouglasPeucker(0).Simplify(poly).(orb.Polygon); ok && len(simplified) > 0 && len(simplified[0]) >= 4 {
				poly = simplified
			}
			geom = poly
		}

		f := geojson.NewFeature(geom)
		f.ID = room
		f.Properties["room"] = room
		f.Properties["samples"] = len(samples[room])
		if c, ok := colors[room]; ok {
			f.Properties["color"] = c
		}
		if poly, ok := geom.(orb.Polygon); ok {
			centroid, area := planar.CentroidArea(poly)
			f.Properties["area"] = area
			f.Properties["centroid"] = []float64{centroid[0], centroid[1]}
		}
		fc.Append(f)
	}
	return fc, nil
}

// FloorplanGeoJSON builds the room outline collection for a fitted estimator
func FloorplanGeoJSON(est *FloorplanEstimator, colors map[string]string) ([]byte, error) {
	grid, err := est.Regions()
	if err != nil {
		return nil, err
	}
	points, labels := est.Samples()
	fc, err := RegionFeatures(grid, points, labels, AssignRoomColors(append(grid.Rooms(), labels...), colors))
	if err != nil {
		return nil, err
	}
	return fc.MarshalJSON()
}

// convexHull returns the hull of points in counter-clockwise order using
// Andrew's monotone chain. Fewer than three points are returned as-is.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
