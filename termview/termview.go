// Package termview draws the review matrix as a terminal table.
package termview

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"peer-review-matrix/matrix"
	"peer-review-matrix/templates"
)

var (
	baseStyle = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Center)

	classStyles = map[string]lipgloss.Style{
		templates.ClassWhite:      baseStyle,
		templates.ClassGray:       baseStyle.Background(lipgloss.Color("236")),
		templates.ClassRed:        baseStyle.Background(lipgloss.Color("160")).Foreground(lipgloss.Color("231")).Bold(true),
		templates.ClassAverage:    baseStyle.Bold(true),
		templates.ClassEmptyBrick: baseStyle.Background(lipgloss.Color("240")),
		templates.ClassColumnName: baseStyle.Bold(true),
	}

	outlierNote = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
)

// Render returns the grid as a bordered table followed by the outlier count.
func Render(grid matrix.Grid) string {
	rows := make([]matrix.Row, 0, len(grid.Rows)+1)
	rows = append(rows, grid.Rows...)
	rows = append(rows, grid.Footer)

	width := len(grid.Header)
	for _, row := range rows {
		if len(row.Cells)+1 > width {
			width = len(row.Cells) + 1
		}
	}
	header := make([]string, width)
	copy(header, grid.Header)

	cells := make([][]string, len(rows))
	for i, row := range rows {
		line := make([]string, width)
		line[0] = row.Label
		for j, c := range row.Cells {
			line[j+1] = c.Text()
		}
		cells[i] = line
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(header...).
		Rows(cells...).
		StyleFunc(func(r, col int) lipgloss.Style {
			if r == table.HeaderRow || col == 0 {
				return classStyles[templates.ClassColumnName]
			}
			i := r - (table.HeaderRow + 1)
			if i < 0 || i >= len(rows) {
				return baseStyle
			}
			row := rows[i]
			j := col - 1
			if j >= len(row.Cells) {
				return baseStyle
			}
			return classStyles[templates.CellClass(row.Band, row.Cells[j])]
		})

	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(outlierNote.Render(strconv.Itoa(grid.OutlierCount) + " Outliers Detected"))
	b.WriteString("\n")
	return b.String()
}
