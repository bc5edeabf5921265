package matrix

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(reviewed, reviewing string, grade float64, outlier bool) ReviewRecord {
	return ReviewRecord{
		ReviewedTeam:  TeamID(reviewed),
		ReviewingTeam: TeamID(reviewing),
		Grade:         grade,
		IsOutlier:     outlier,
	}
}

func fullMatrix() []ReviewRecord {
	return []ReviewRecord{
		rec("A", "B", 80, false),
		rec("A", "C", 90, false),
		rec("B", "A", 70, true),
		rec("B", "C", 75, false),
		rec("C", "A", 60, false),
		rec("C", "B", 100, false),
	}
}

func TestTeams(t *testing.T) {
	records := []ReviewRecord{
		rec("B", "A", 1, false),
		rec("A", "B", 2, false),
		rec("B", "C", 3, false),
		rec("C", "A", 4, false),
	}
	assert.Equal(t, []TeamID{"B", "A", "C"}, Teams(records))
	assert.Empty(t, Teams(nil))
}

func TestAggregateTwoReviewers(t *testing.T) {
	records := []ReviewRecord{rec("A", "B", 5, false), rec("A", "C", 7, false)}
	grid := Aggregate(records, Teams(records))

	require.Len(t, grid.Rows, 1)
	row := grid.Rows[0]
	assert.Equal(t, "A", row.Label)

	// spacer at index 0, two grades, then the average
	require.Len(t, row.Cells, 4)
	assert.Equal(t, CellSpacer, row.Cells[0].Kind)
	assert.Equal(t, 5.0, row.Cells[1].Value)
	assert.Equal(t, 7.0, row.Cells[2].Value)
	avg := row.Cells[3]
	assert.Equal(t, CellAverage, avg.Kind)
	assert.True(t, avg.HasValue)
	assert.InDelta(t, 6.0, avg.Value, 1e-9)
	assert.Equal(t, "6.00", avg.Text())

	for _, c := range row.Cells {
		assert.False(t, c.Outlier)
	}
	assert.Zero(t, grid.OutlierCount)
}

func TestAggregateRowCount(t *testing.T) {
	tests := []struct {
		name    string
		records []ReviewRecord
	}{
		{name: "empty", records: nil},
		{name: "single", records: []ReviewRecord{rec("A", "B", 3, false)}},
		{name: "full", records: fullMatrix()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			teams := Teams(tt.records)
			grid := Aggregate(tt.records, teams)
			assert.Equal(t, len(teams)+2, grid.Len())
			assert.Len(t, grid.Header, len(teams)+2)
		})
	}
}

func TestAggregateAverages(t *testing.T) {
	records := fullMatrix()
	grid := Aggregate(records, Teams(records))

	wantReceived := map[string]float64{"A": 85, "B": 72.5, "C": 80}
	for _, row := range grid.Rows {
		var avg Cell
		for _, c := range row.Cells {
			if c.Kind == CellAverage {
				avg = c
			}
		}
		assert.InDelta(t, wantReceived[row.Label], avg.Value, 1e-9, row.Label)
	}

	// A gave 70 and 60, B gave 80 and 100, C gave 90 and 75.
	wantGiven := []float64{65, 90, 82.5}
	require.Len(t, grid.Footer.Cells, 4)
	for i, want := range wantGiven {
		assert.InDelta(t, want, grid.Footer.Cells[i].Value, 1e-9)
		assert.True(t, grid.Footer.Cells[i].HasValue)
	}
	assert.Equal(t, CellSpacer, grid.Footer.Cells[3].Kind)
	assert.Equal(t, BandFooter, grid.Footer.Band)
}

func TestAggregateSpacerFollowsRowIndex(t *testing.T) {
	records := fullMatrix()
	grid := Aggregate(records, Teams(records))
	for i, row := range grid.Rows {
		require.Greater(t, len(row.Cells), i)
		assert.Equal(t, CellSpacer, row.Cells[i].Kind, "row %d", i)
	}
}

func TestAggregateSpacerClampedOnShortRow(t *testing.T) {
	records := []ReviewRecord{rec("A", "B", 1, false)}
	// B and C have no received grades, so their rows hold only an empty average.
	grid := Aggregate(records, []TeamID{"A", "B", "C"})
	require.Len(t, grid.Rows, 3)

	last := grid.Rows[2]
	require.Len(t, last.Cells, 2)
	assert.Equal(t, CellAverage, last.Cells[0].Kind)
	assert.False(t, last.Cells[0].HasValue)
	assert.Equal(t, "", last.Cells[0].Text())
	assert.Equal(t, CellSpacer, last.Cells[1].Kind)
}

func TestAggregateBanding(t *testing.T) {
	records := fullMatrix()
	grid := Aggregate(records, Teams(records))
	assert.Equal(t, BandWhite, grid.Rows[0].Band)
	assert.Equal(t, BandGray, grid.Rows[1].Band)
	assert.Equal(t, BandWhite, grid.Rows[2].Band)
}

func TestAggregateOutliers(t *testing.T) {
	records := fullMatrix()
	records[4].AverageIsOutlier = true // C, first record
	grid := Aggregate(records, Teams(records))

	assert.Equal(t, 1, grid.OutlierCount)

	// B row: spacer at 1, so grades at 0 and 2.
	b := grid.Rows[1]
	assert.True(t, b.Cells[0].Outlier)
	assert.Equal(t, TeamID("A"), b.Cells[0].Team)
	assert.False(t, b.Cells[2].Outlier)

	// last record for C carries AverageIsOutlier=false and wins
	c := grid.Rows[2]
	assert.False(t, c.Cells[len(c.Cells)-1].Outlier)
}

func TestAggregateAverageOutlierLastWriteWins(t *testing.T) {
	records := []ReviewRecord{rec("A", "B", 1, false), rec("A", "C", 2, false)}
	records[1].AverageIsOutlier = true
	grid := Aggregate(records, Teams(records))

	row := grid.Rows[0]
	avg := row.Cells[len(row.Cells)-1]
	assert.Equal(t, CellAverage, avg.Kind)
	assert.True(t, avg.Outlier)
	assert.True(t, grid.Footer.Cells[0].Outlier)
}

func TestAggregateTeamWithoutOutgoingReviews(t *testing.T) {
	records := []ReviewRecord{rec("A", "B", 4, false), rec("B", "X", 6, false)}
	grid := Aggregate(records, Teams(records))

	// A never reviewed anyone.
	assert.Equal(t, TeamID("A"), grid.Footer.Cells[0].Team)
	assert.False(t, grid.Footer.Cells[0].HasValue)
	assert.True(t, grid.Footer.Cells[1].HasValue)
	assert.InDelta(t, 4.0, grid.Footer.Cells[1].Value, 1e-9)
	assert.NotContains(t, grid.Teams, TeamID("X"))
}

func TestAggregateIsPure(t *testing.T) {
	records := fullMatrix()
	records[2].AverageIsOutlier = true
	teams := Teams(records)

	first := Aggregate(records, teams)
	second := Aggregate(records, teams)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("grids differ (-first +second):\n%s", diff)
	}

	first.Rows[0].Cells[0].Value = 999
	third := Aggregate(records, teams)
	assert.NotEqual(t, 999.0, third.Rows[0].Cells[0].Value)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "85", FormatGrade(85))
	assert.Equal(t, "7.5", FormatGrade(7.5))
	assert.Equal(t, "6.33", FormatAverage(19.0/3))
	assert.Equal(t, "grade", CellGrade.String())
	assert.Equal(t, "footer", BandFooter.String())
}
