// Package matrix turns flat peer-review records into the grid shown on the
// review distribution page.
package matrix

import (
	"strconv"
)

// TeamID identifies a student team within a course.
type TeamID string

// ReviewRecord is one team-reviewing-team grade with its outlier flags.
type ReviewRecord struct {
	ReviewedTeam     TeamID  `json:"reviewed_team"`
	ReviewingTeam    TeamID  `json:"reviewing_team"`
	Grade            float64 `json:"grade"`
	IsOutlier        bool    `json:"is_outlier"`
	AverageIsOutlier bool    `json:"average_is_outlier"`
}

// CellKind says what a grid cell holds.
type CellKind int

const (
	CellGrade CellKind = iota
	CellAverage
	CellSpacer
)

var cellKindNames = [...]string{"grade", "average", "spacer"}

func (k CellKind) String() string {
	if int(k) < 0 || int(k) >= len(cellKindNames) {
		return "unknown"
	}
	return cellKindNames[k]
}

// MarshalText lets grids serialize with readable kinds.
func (k CellKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Band is the background banding of a row.
type Band int

const (
	BandWhite Band = iota
	BandGray
	BandFooter
)

var bandNames = [...]string{"white", "gray", "footer"}

func (b Band) String() string {
	if int(b) < 0 || int(b) >= len(bandNames) {
		return "unknown"
	}
	return bandNames[b]
}

func (b Band) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// Cell is one table cell. Team is the reviewing team for grade cells and
// the column team for footer averages. HasValue is false for spacers and
// for averages of teams with nothing to average.
type Cell struct {
	Kind     CellKind `json:"kind"`
	Team     TeamID   `json:"team,omitempty"`
	Value    float64  `json:"value"`
	HasValue bool     `json:"has_value"`
	Outlier  bool     `json:"outlier"`
}

// Text is the display form of the cell.
func (c Cell) Text() string {
	switch c.Kind {
	case CellGrade:
		return FormatGrade(c.Value)
	case CellAverage:
		if !c.HasValue {
			return ""
		}
		return FormatAverage(c.Value)
	default:
		return ""
	}
}

// Row is one labelled table row.
type Row struct {
	Label string `json:"label"`
	Band  Band   `json:"band"`
	Cells []Cell `json:"cells"`
}

// Grid is the immutable view model of the matrix table.
type Grid struct {
	Teams        []TeamID `json:"teams"`
	Header       []string `json:"header"`
	Rows         []Row    `json:"rows"`
	Footer       Row      `json:"footer"`
	OutlierCount int      `json:"outlier_count"`
}

// Len counts table rows including header and footer.
func (g Grid) Len() int { return len(g.Rows) + 2 }

// FormatGrade renders a grade in its shortest exact decimal form.
func FormatGrade(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatAverage renders an average with two decimals.
func FormatAverage(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
