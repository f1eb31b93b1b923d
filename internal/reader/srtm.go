package reader

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// srtmVoid marks missing samples in SRTM tiles.
const srtmVoid = -32768

// ElevationOracle looks up terrain elevation from SRTM .hgt tiles. Tiles are
// named by their south-west corner (N51W001.hgt) and hold a square grid of
// big-endian int16 metres, north row first. Both 1-arcsecond (3601x3601) and
// 3-arcsecond (1201x1201) tiles are supported.
type ElevationOracle struct {
	dir   string
	tiles map[string][]byte
}

// NewElevationOracle creates an oracle reading tiles from dir. Tiles are
// loaded lazily and cached; a missing tile is cached as absent.
func NewElevationOracle(dir string) *ElevationOracle {
	return &ElevationOracle{dir: dir, tiles: make(map[string][]byte)}
}

// Elevation returns the bilinearly interpolated elevation at (lat, lon), or
// false if no tile covers the point or the data there is void.
func (o *ElevationOracle) Elevation(lat, lon float64) (float64, bool) {
	latBase := math.Floor(lat)
	lonBase := math.Floor(lon)
	tile, ok := o.tile(int(latBase), int(lonBase))
	if !ok {
		return 0, false
	}

	n := tileSize(len(tile))
	if n == 0 {
		return 0, false
	}

	// Row 0 is the north edge (latBase + 1).
	fy := (latBase + 1 - lat) * float64(n-1)
	fx := (lon - lonBase) * float64(n-1)
	y0, x0 := int(fy), int(fx)
	if y0 >= n-1 {
		y0 = n - 2
	}
	if x0 >= n-1 {
		x0 = n - 2
	}
	dy, dx := fy-float64(y0), fx-float64(x0)

	var corners [4]float64
	for i, off := range [4][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		v, ok := sample(tile, n, y0+off[0], x0+off[1])
		if !ok {
			return 0, false
		}
		corners[i] = v
	}

	top := corners[0]*(1-dx) + corners[1]*dx
	bottom := corners[2]*(1-dx) + corners[3]*dx
	return top*(1-dy) + bottom*dy, true
}

func (o *ElevationOracle) tile(latBase, lonBase int) ([]byte, bool) {
	name := tileName(latBase, lonBase)
	if data, ok := o.tiles[name]; ok {
		return data, data != nil
	}
	data, err := os.ReadFile(filepath.Join(o.dir, name))
	if err != nil {
		o.tiles[name] = nil
		return nil, false
	}
	o.tiles[name] = data
	return data, true
}

func tileName(latBase, lonBase int) string {
	ns, lat := "N", latBase
	if lat < 0 {
		ns, lat = "S", -lat
	}
	ew, lon := "E", lonBase
	if lon < 0 {
		ew, lon = "W", -lon
	}
	return fmt.Sprintf("%s%02d%s%03d.hgt", ns, lat, ew, lon)
}

func tileSize(bytes int) int {
	switch bytes {
	case 3601 * 3601 * 2:
		return 3601
	case 1201 * 1201 * 2:
		return 1201
	default:
		return 0
	}
}

func sample(tile []byte, n, row, col int) (float64, bool) {
	if row < 0 || row >= n || col < 0 || col >= n {
		return 0, false
	}
	v := int16(binary.BigEndian.Uint16(tile[2*(row*n+col):]))
	if v == srtmVoid {
		return 0, false
	}
	return float64(v), true
}
