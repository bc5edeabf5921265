package matrix

const (
	avgReceivedLabel = "Avg. Received"
	avgGivenLabel    = "Avg. Given"
)

// runningMean keeps the sum and count of the grades seen so far.
type runningMean struct {
	sum   float64
	count int
}

func (m *runningMean) add(v float64) float64 {
	m.sum += v
	m.count++
	return m.sum / float64(m.count)
}

// Teams returns the distinct reviewed teams in first-appearance order.
func Teams(records []ReviewRecord) []TeamID {
	seen := make(map[TeamID]bool, len(records))
	var teams []TeamID
	for _, r := range records {
		if seen[r.ReviewedTeam] {
			continue
		}
		seen[r.ReviewedTeam] = true
		teams = append(teams, r.ReviewedTeam)
	}
	return teams
}

// Aggregate builds the grid for the given records, one body row per team
// in teams order. The received-side outlier flag of a team is taken from
// the last record processed for it.
func Aggregate(records []ReviewRecord, teams []TeamID) Grid {
	received := make(map[TeamID][]Cell)
	receivedMean := make(map[TeamID]*runningMean)
	givenMean := make(map[TeamID]*runningMean)
	avgReceived := make(map[TeamID]float64)
	avgGiven := make(map[TeamID]float64)
	receivedOutlier := make(map[TeamID]bool)

	grid := Grid{}
	for _, r := range records {
		received[r.ReviewedTeam] = append(received[r.ReviewedTeam], Cell{
			Kind:     CellGrade,
			Team:     r.ReviewingTeam,
			Value:    r.Grade,
			HasValue: true,
			Outlier:  r.IsOutlier,
		})

		rm, ok := receivedMean[r.ReviewedTeam]
		if !ok {
			rm = &runningMean{}
			receivedMean[r.ReviewedTeam] = rm
		}
		avgReceived[r.ReviewedTeam] = rm.add(r.Grade)
		receivedOutlier[r.ReviewedTeam] = r.AverageIsOutlier

		gm, ok := givenMean[r.ReviewingTeam]
		if !ok {
			gm = &runningMean{}
			givenMean[r.ReviewingTeam] = gm
		}
		avgGiven[r.ReviewingTeam] = gm.add(r.Grade)
	}

	grid.Teams = append([]TeamID(nil), teams...)
	grid.Header = make([]string, 0, len(teams)+2)
	grid.Header = append(grid.Header, "")
	for _, team := range teams {
		grid.Header = append(grid.Header, string(team))
	}
	grid.Header = append(grid.Header, avgReceivedLabel)

	grid.Rows = make([]Row, 0, len(teams))
	for i, team := range teams {
		grades := received[team]
		cells := make([]Cell, 0, len(grades)+2)
		cells = append(cells, grades...)
		for _, c := range grades {
			if c.Outlier {
				grid.OutlierCount++
			}
		}
		_, has := receivedMean[team]
		cells = append(cells, Cell{
			Kind:     CellAverage,
			Team:     team,
			Value:    avgReceived[team],
			HasValue: has,
			Outlier:  receivedOutlier[team],
		})
		cells = insertSpacer(cells, i)

		band := BandWhite
		if i%2 == 1 {
			band = BandGray
		}
		grid.Rows = append(grid.Rows, Row{Label: string(team), Band: band, Cells: cells})
	}

	footer := Row{Label: avgGivenLabel, Band: BandFooter, Cells: make([]Cell, 0, len(teams)+1)}
	for _, team := range teams {
		_, has := givenMean[team]
		footer.Cells = append(footer.Cells, Cell{
			Kind:     CellAverage,
			Team:     team,
			Value:    avgGiven[team],
			HasValue: has,
			Outlier:  receivedOutlier[team],
		})
	}
	footer.Cells = append(footer.Cells, Cell{Kind: CellSpacer})
	grid.Footer = footer

	return grid
}

// insertSpacer puts a blank cell at pos, or at the end when the row is
// shorter than pos.
func insertSpacer(cells []Cell, pos int) []Cell {
	if pos > len(cells) {
		pos = len(cells)
	}
	cells = append(cells, Cell{})
	copy(cells[pos+1:], cells[pos:])
	cells[pos] = Cell{Kind: CellSpacer}
	return cells
}
