package instrument

import (
	"math"
	"testing"

	"constellation/geo"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMaxApertureAndClamp(t *testing.T) {
	Convey("Given a satellite well above the Earth's surface", t, func() {
		h := geo.EarthRadiusMeters + 700000

		Convey("MaxAperture is 2*arcsin(R/h)", func() {
			want := 2 * math.Asin(geo.EarthRadiusMeters/h)
			So(MaxAperture(h), ShouldAlmostEqual, want, 1e-9)
		})

		Convey("ClampAperture silently caps configured values above the maximum", func() {
			max := MaxAperture(h)
			So(ClampAperture(max+1, h), ShouldAlmostEqual, max, 1e-9)
		})

		Convey("ClampAperture leaves values within range untouched", func() {
			max := MaxAperture(h)
			So(ClampAperture(max/2, h), ShouldAlmostEqual, max/2, 1e-9)
		})
	})
}

func TestSlantRangeNadir(t *testing.T) {
	Convey("Given a satellite looking straight down", t, func() {
		h := geo.EarthRadiusMeters + 500000
		So(SlantRange(h, 0), ShouldAlmostEqual, 500000, 1e-6)
	})

	Convey("Given a satellite looking at its own horizon", t, func() {
		h := geo.EarthRadiusMeters + 500000
		deltaMax := MaxAperture(h) / 2
		want := math.Sqrt(h*h - geo.EarthRadiusMeters*geo.EarthRadiusMeters)
		So(SlantRange(h, deltaMax), ShouldAlmostEqual, want, 1)
	})
}

func TestFootprintPolygonProducesClosedLoop(t *testing.T) {
	Convey("Given a satellite over the equator at the prime meridian", t, func() {
		h := geo.EarthRadiusMeters + 700000
		p := geo.Vec3{X: h, Y: 0, Z: 0}
		ins := New(Config{ApertureRad: 0.2, FootprintPoints: 12}, h)

		Convey("FootprintPolygon returns one point per sample, all within the map", func() {
			pts := ins.FootprintPolygon(p, 12, 1000, 500)
			So(len(pts), ShouldBeGreaterThanOrEqualTo, 12)
			for _, pt := range pts {
				So(pt.X, ShouldBeGreaterThanOrEqualTo, 0)
				So(pt.X, ShouldBeLessThanOrEqualTo, 1000)
				So(pt.Y, ShouldBeGreaterThanOrEqualTo, 0)
				So(pt.Y, ShouldBeLessThanOrEqualTo, 500)
			}
		})
	})
}

func TestVisibleCellsIncludesSubPoint(t *testing.T) {
	Convey("Given a LUT where the sub-point cell is exactly at the agent's sub-point", t, func() {
		width, height := 10, 10
		ratioW, ratioH := 36.0, 18.0
		lut := make([][]geo.Vec3, width)
		for x := 0; x < width; x++ {
			lut[x] = make([]geo.Vec3, height)
			for y := 0; y < height; y++ {
				ll := geo.LatLon{LonDeg: float64(x)*ratioW - 180, LatDeg: 90 - float64(y)*ratioH}
				lut[x][y] = geo.FromLatLon(ll, geo.EarthRadiusMeters)
			}
		}

		subX, subY := 5, 5
		sub := lut[subX][subY]

		Convey("VisibleCells with a small swath radius returns only the sub-point cell", func() {
			cells := VisibleCells(lut, width, height, subX, subY, sub, 1)
			So(len(cells), ShouldEqual, 1)
			So(cells[0].X, ShouldEqual, subX)
			So(cells[0].Y, ShouldEqual, subY)
		})

		Convey("VisibleCells with a generous swath radius returns more than one cell", func() {
			cells := VisibleCells(lut, width, height, subX, subY, sub, 5000000)
			So(len(cells), ShouldBeGreaterThan, 1)
		})
	})
}
