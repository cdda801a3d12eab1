// Package disks holds lookup tables of standard disk geometries, so callers
// (chiefly the imgtool CLI) can pick a FAT12 image size by name instead of
// hand-computing sector counts.
package disks

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// Geometry describes one standard, named disk geometry.
type Geometry struct {
	Slug            string `csv:"slug"`
	Name            string `csv:"name"`
	SectorSize      uint   `csv:"sector_size"`
	SectorsPerTrack uint   `csv:"sectors_per_track"`
	Heads           uint   `csv:"heads"`
	Tracks          uint   `csv:"tracks"`
	SectorCount     uint   `csv:"sector_count"`
}

// TotalSizeBytes is the minimum size, in bytes, of an image file with this
// geometry.
func (g Geometry) TotalSizeBytes() int64 {
	return int64(g.SectorSize) * int64(g.SectorCount)
}

//go:embed geometries.csv
var rawGeometriesCSV string

var geometries = map[string]Geometry{}

func init() {
	reader := strings.NewReader(rawGeometriesCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Geometry) error {
		if _, exists := geometries[row.Slug]; exists {
			return fmt.Errorf("duplicate disk geometry slug %q", row.Slug)
		}
		geometries[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// Lookup returns the predefined geometry registered under slug (e.g.
// "1440k"), or an error if no such geometry is known.
func Lookup(slug string) (Geometry, error) {
	g, ok := geometries[slug]
	if !ok {
		return Geometry{}, fmt.Errorf("no predefined disk geometry named %q", slug)
	}
	return g, nil
}

// Slugs returns every registered geometry slug, for help text.
func Slugs() []string {
	slugs := make([]string, 0, len(geometries))
	for slug := range geometries {
		slugs = append(slugs, slug)
	}
	return slugs
}
