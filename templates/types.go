package templates

import (
	"time"

	"peer-review-matrix/matrix"
)

// AssignmentOption is one entry of the assignment selector.
type AssignmentOption struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// MatrixPageData feeds the peer review distribution page.
type MatrixPageData struct {
	CourseID        string
	AssignmentIndex int
	AssignmentName  string
	Assignments     []AssignmentOption
	Grid            *matrix.Grid
	Stale           bool
	FetchedAt       time.Time
	Error           string
	AssignmentError string
}
