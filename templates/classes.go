package templates

import (
	"net/url"

	"github.com/a-h/templ"

	"peer-review-matrix/matrix"
)

// Cell classes shared by the HTML page and the terminal renderer.
const (
	ClassWhite      = "white"
	ClassGray       = "gray"
	ClassRed        = "red"
	ClassAverage    = "average"
	ClassEmptyBrick = "emptyBrick"
	ClassColumnName = "columnName"
	ClassTopLeft    = "topLeft"
)

// CellClass picks the style class of a cell in a row of the given band.
// Outliers are red regardless of banding.
func CellClass(band matrix.Band, c matrix.Cell) string {
	if c.Kind == matrix.CellSpacer {
		return ClassEmptyBrick
	}
	if c.Outlier {
		return ClassRed
	}
	switch band {
	case matrix.BandFooter:
		return ClassAverage
	case matrix.BandGray:
		return ClassGray
	default:
		return ClassWhite
	}
}

func headerClass(col int) string {
	if col == 0 {
		return ClassColumnName + " " + ClassTopLeft
	}
	return ClassColumnName
}

func selectorAction(courseID string) templ.SafeURL {
	return templ.URL("/courses/" + url.PathEscape(courseID) + "/matrix")
}
