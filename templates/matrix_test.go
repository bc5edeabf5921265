package templates

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-review-matrix/matrix"
)

func render(t *testing.T, data MatrixPageData) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, MatrixPage(data).Render(context.Background(), &buf))
	return buf.String()
}

func sampleGrid() matrix.Grid {
	records := []matrix.ReviewRecord{
		{ReviewedTeam: "A", ReviewingTeam: "B", Grade: 5},
		{ReviewedTeam: "A", ReviewingTeam: "C", Grade: 7, IsOutlier: true},
		{ReviewedTeam: "B", ReviewingTeam: "A", Grade: 8},
	}
	return matrix.Aggregate(records, matrix.Teams(records))
}

func TestCellClass(t *testing.T) {
	tests := []struct {
		name string
		band matrix.Band
		cell matrix.Cell
		want string
	}{
		{name: "white band", band: matrix.BandWhite, cell: matrix.Cell{Kind: matrix.CellGrade}, want: ClassWhite},
		{name: "gray band", band: matrix.BandGray, cell: matrix.Cell{Kind: matrix.CellGrade}, want: ClassGray},
		{name: "outlier on white band", band: matrix.BandWhite, cell: matrix.Cell{Kind: matrix.CellGrade, Outlier: true}, want: ClassRed},
		{name: "outlier average on gray band", band: matrix.BandGray, cell: matrix.Cell{Kind: matrix.CellAverage, Outlier: true}, want: ClassRed},
		{name: "footer", band: matrix.BandFooter, cell: matrix.Cell{Kind: matrix.CellAverage}, want: ClassAverage},
		{name: "footer outlier", band: matrix.BandFooter, cell: matrix.Cell{Kind: matrix.CellAverage, Outlier: true}, want: ClassRed},
		{name: "spacer", band: matrix.BandGray, cell: matrix.Cell{Kind: matrix.CellSpacer}, want: ClassEmptyBrick},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CellClass(tt.band, tt.cell))
		})
	}
}

func TestMatrixTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MatrixTable(sampleGrid()).Render(context.Background(), &buf))
	html := buf.String()

	// header, two teams, footer
	assert.Equal(t, 4, strings.Count(html, "<tr>"))
	assert.Contains(t, html, `<td class="columnName topLeft"></td>`)
	assert.Contains(t, html, `<td class="columnName">Avg. Received</td>`)
	assert.Contains(t, html, `<td class="columnName">Avg. Given</td>`)
	// first row is white banded, its outlier grade is red
	assert.Contains(t, html, `<td class="white">5</td>`)
	assert.Contains(t, html, `<td class="red">7</td>`)
	assert.Contains(t, html, `<td class="white">6.00</td>`)
	// second row is gray
	assert.Contains(t, html, `<td class="gray">8</td>`)
	assert.Contains(t, html, `<td class="emptyBrick"></td>`)
}

func TestMatrixPage(t *testing.T) {
	grid := sampleGrid()
	html := render(t, MatrixPageData{
		CourseID:        "CSC 480",
		AssignmentIndex: 2,
		AssignmentName:  "Sprint <Review>",
		Assignments: []AssignmentOption{
			{Index: 1, Name: "Design Doc"},
			{Index: 2, Name: "Sprint <Review>", Selected: true},
		},
		Grid: &grid,
	})

	assert.Contains(t, html, "<h1>Peer Review Distribution</h1>")
	assert.Contains(t, html, `action="/courses/CSC%20480/matrix"`)
	assert.Contains(t, html, `<option value="2" selected>Sprint &lt;Review&gt;</option>`)
	assert.Contains(t, html, `<option value="1">Design Doc</option>`)
	assert.Contains(t, html, "<h2>Sprint &lt;Review&gt;</h2>")
	assert.Contains(t, html, "<strong>1 Outliers Detected</strong>")
	assert.NotContains(t, html, "banner error")
	assert.NotContains(t, html, "<Review>")
}

func TestMatrixPageNotLoaded(t *testing.T) {
	html := render(t, MatrixPageData{CourseID: "c1", AssignmentIndex: 1, Error: "backend: unauthorized"})

	assert.Contains(t, html, `role="alert"`)
	assert.Contains(t, html, "backend: unauthorized")
	assert.NotContains(t, html, "<table")
	assert.NotContains(t, html, "Outliers Detected")
}

func TestMatrixPageStale(t *testing.T) {
	grid := sampleGrid()
	fetched := time.Date(2026, 4, 1, 8, 5, 0, 0, time.UTC)
	html := render(t, MatrixPageData{
		CourseID:        "c1",
		AssignmentIndex: 1,
		Grid:            &grid,
		Stale:           true,
		FetchedAt:       fetched,
		Error:           "connection refused",
		AssignmentError: "HTTP 500",
	})

	assert.Contains(t, html, "Showing the matrix fetched at 2026-04-01 08:05 UTC")
	assert.Contains(t, html, "connection refused")
	assert.Contains(t, html, "Could not load assignments: HTTP 500")
	assert.Contains(t, html, "<table")
}
