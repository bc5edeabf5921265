// Package loader runs the two backend fetches a matrix page needs, keeps the
// last good matrix in the snapshot store, and builds the grid.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"peer-review-matrix/backend"
	"peer-review-matrix/matrix"
	"peer-review-matrix/store"
)

// ErrInvalidRequest is returned for an empty course id or an assignment
// index below 1.
var ErrInvalidRequest = errors.New("loader: invalid request")

// MatrixFetcher retrieves the flattened matrix of one assignment.
type MatrixFetcher interface {
	FetchMatrix(ctx context.Context, courseID string, assignmentIndex int) ([]matrix.ReviewRecord, error)
}

// AssignmentFetcher retrieves the assignment list of a course.
type AssignmentFetcher interface {
	FetchAssignments(ctx context.Context, courseID string) ([]backend.Assignment, error)
}

// SnapshotStore persists matrices between loads.
type SnapshotStore interface {
	Save(ctx context.Context, snap store.Snapshot) (store.Snapshot, error)
	Latest(ctx context.Context, principal, courseID string, assignmentIndex int) (store.Snapshot, error)
	Prune(ctx context.Context, principal, courseID string, assignmentIndex, keep int) (int64, error)
}

// Request names the assignment to load. AssignmentIndex is 1-based.
type Request struct {
	CourseID        string
	AssignmentIndex int
}

// MatrixStep is the outcome of the matrix fetch. When the fetch failed but
// a stored snapshot was found, Records holds the snapshot, Stale is set and
// Err still reports the fetch failure.
type MatrixStep struct {
	Records   []matrix.ReviewRecord
	FetchedAt time.Time
	Stale     bool
	Err       error
}

// AssignmentStep is the outcome of the assignment list fetch.
type AssignmentStep struct {
	Assignments []backend.Assignment
	Err         error
}

// Result is everything a page render needs. Grid is nil when no matrix,
// fresh or stored, was available.
type Result struct {
	Request     Request
	Matrix      MatrixStep
	Assignments AssignmentStep
	Grid        *matrix.Grid
}

// Ready reports whether a grid can be rendered.
func (r *Result) Ready() bool { return r.Grid != nil }

// Assignment returns the requested assignment when the list has it.
func (r *Result) Assignment() (backend.Assignment, bool) {
	i := r.Request.AssignmentIndex - 1
	if i < 0 || i >= len(r.Assignments.Assignments) {
		return backend.Assignment{}, false
	}
	return r.Assignments.Assignments[i], true
}

// Options configures a Loader.
type Options struct {
	// Snapshots may be nil to disable persistence.
	Snapshots SnapshotStore
	// ServeStale allows falling back to the latest snapshot when the backend
	// is unavailable. Refusals never fall back.
	ServeStale bool
	// Principal names the credentials of a load, scoping its snapshots.
	// Nil puts every load under "".
	Principal func(ctx context.Context) string
	// KeepSnapshots bounds stored snapshots per assignment; 0 keeps all.
	KeepSnapshots int
	Logger        *zap.Logger
	// Now is used for fetch timestamps; defaults to time.Now.
	Now func() time.Time
}

// Loader composes the fetch steps.
type Loader struct {
	matrices    MatrixFetcher
	assignments AssignmentFetcher
	snapshots   SnapshotStore
	serveStale  bool
	keep        int
	principal   func(ctx context.Context) string
	logger      *zap.Logger
	now         func() time.Time
}

// New builds a Loader.
func New(matrices MatrixFetcher, assignments AssignmentFetcher, opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	principal := opts.Principal
	if principal == nil {
		principal = func(context.Context) string { return "" }
	}
	return &Loader{
		matrices:    matrices,
		assignments: assignments,
		snapshots:   opts.Snapshots,
		serveStale:  opts.ServeStale,
		keep:        opts.KeepSnapshots,
		principal:   principal,
		logger:      logger.Named("loader"),
		now:         now,
	}
}

// Load fetches the matrix and the assignment list concurrently. A failing
// step never cancels the other; its error is kept on the step result.
func (l *Loader) Load(ctx context.Context, req Request) (*Result, error) {
	if req.CourseID == "" || req.AssignmentIndex < 1 {
		return nil, fmt.Errorf("%w: course %q assignment %d", ErrInvalidRequest, req.CourseID, req.AssignmentIndex)
	}
	log := l.logger.With(zap.String("course_id", req.CourseID), zap.Int("assignment_index", req.AssignmentIndex))

	res := &Result{Request: req}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.Matrix = l.loadMatrix(gctx, req, log)
		return nil
	})
	g.Go(func() error {
		assignments, err := l.assignments.FetchAssignments(gctx, req.CourseID)
		if err != nil {
			log.Warn("assignment fetch failed", zap.Error(err))
		}
		res.Assignments = AssignmentStep{Assignments: assignments, Err: err}
		return nil
	})
	_ = g.Wait()

	if res.Matrix.Err == nil || res.Matrix.Stale {
		grid := matrix.Aggregate(res.Matrix.Records, matrix.Teams(res.Matrix.Records))
		res.Grid = &grid
	}
	return res, nil
}

func (l *Loader) loadMatrix(ctx context.Context, req Request, log *zap.Logger) MatrixStep {
	records, err := l.matrices.FetchMatrix(ctx, req.CourseID, req.AssignmentIndex)
	if err == nil {
		step := MatrixStep{Records: records, FetchedAt: l.now()}
		l.saveSnapshot(ctx, req, step, log)
		return step
	}

	log.Warn("matrix fetch failed", zap.Error(err))
	step := MatrixStep{Err: err}
	if !l.serveStale || l.snapshots == nil || ctx.Err() != nil {
		return step
	}
	// a refused or rejected request must not be answered from storage
	if !backend.Unavailable(err) {
		return step
	}
	snap, serr := l.snapshots.Latest(ctx, l.principal(ctx), req.CourseID, req.AssignmentIndex)
	if serr != nil {
		if !errors.Is(serr, store.ErrNoSnapshot) && ctx.Err() == nil {
			log.Error("snapshot lookup failed", zap.Error(serr))
		}
		return step
	}
	log.Info("serving stored matrix", zap.String("snapshot_id", snap.ID), zap.Time("fetched_at", snap.FetchedAt))
	return MatrixStep{Records: snap.Records, FetchedAt: snap.FetchedAt, Stale: true, Err: err}
}

func (l *Loader) saveSnapshot(ctx context.Context, req Request, step MatrixStep, log *zap.Logger) {
	if l.snapshots == nil {
		return
	}
	principal := l.principal(ctx)
	_, err := l.snapshots.Save(ctx, store.Snapshot{
		Principal:       principal,
		CourseID:        req.CourseID,
		AssignmentIndex: req.AssignmentIndex,
		Records:         step.Records,
		FetchedAt:       step.FetchedAt,
	})
	if err != nil {
		log.Error("snapshot save failed", zap.Error(err))
		return
	}
	if l.keep > 0 {
		if _, err := l.snapshots.Prune(ctx, principal, req.CourseID, req.AssignmentIndex, l.keep); err != nil {
			log.Error("snapshot prune failed", zap.Error(err))
		}
	}
}
