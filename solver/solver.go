// Package solver iterates Jacobi relaxation to convergence, either on a
// single process with worker threads or across a fixed group of cooperating
// ranks with row-block decomposition, halo exchange between chain neighbors,
// and a globally consistent termination protocol.
package solver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gridworks-hpc/relax/comm"
	"github.com/gridworks-hpc/relax/grid"
	"github.com/gridworks-hpc/relax/partition"
)

var (
	// ErrGridSize reports an initial or gathered grid that does not match
	// the lattice dimensions
	ErrGridSize = errors.New("solver: grid size mismatch")
	// ErrConditions reports unusable termination controls
	ErrConditions = errors.New("solver: invalid conditions")
	// ErrMode reports a run mode the solver was not constructed for
	ErrMode = errors.New("solver: wrong run mode")
)

const defaultOutputDir = "vtk_files"

// Kernel is the sweep surface the relaxation loop drives. grid.Mesh
// implements it.
type Kernel interface {
	// Update performs one sweep with the given number of worker threads
	Update(threads int)
	// Error returns the metric of the most recent sweep
	Error() float64
	// Values exposes the live flattened field
	Values() []float64
	// SetValues replaces the field with a copy of buf
	SetValues(buf []float64) error
	// Size returns the local row and column counts
	Size() (rows, cols int)
	// Write stores the field at path
	Write(path string) error
}

// Stats describes a finished run
type Stats struct {
	// Iterations is the loop pass count at termination
	Iterations int
	// Converged reports whether this rank's latch came from the error test
	// rather than the iteration budget
	Converged bool
	// SweepTime is the total time spent inside sweeps; on group runs it is
	// the group mean, identical on every rank
	SweepTime time.Duration
	// PerSweep is SweepTime divided by Iterations
	PerSweep time.Duration
	// OutputPath is where the solution artifact landed, set only on the
	// writing rank
	OutputPath string
}

// Solver owns one rank's share of a relaxation run.
//
// A rank stops sweeping once its own error drops below tolerance or the
// sweep budget runs out, but keeps exchanging its now-frozen boundary rows
// and keeps joining the convergence reduction until every rank has stopped,
// so the group always terminates together.
type Solver struct {
	// Log receives structured progress events; defaults to a silent logger
	Log *slog.Logger
	// OutputDir is the directory the solution artifact lands in
	OutputDir string

	cond Conditions
	n    int

	// single-process state
	kern Kernel

	// group state; comm is nil on single-process solvers
	comm    comm.Communicator
	rank    int
	size    int
	topo    Chain
	lay     *partition.Layout
	initial []float64
	dom     grid.Domain
	force   grid.ForceFunc
}

// New builds a single-process solver around an existing kernel with n
// columns. The kernel is swept in place.
func New(k Kernel, n int, c Conditions) (*Solver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if k == nil {
		return nil, fmt.Errorf("solver: nil kernel")
	}
	if _, cols := k.Size(); cols != n {
		return nil, fmt.Errorf("%w: kernel has %d columns, expected %d", ErrGridSize, cols, n)
	}
	return &Solver{
		Log:       silentLogger(),
		OutputDir: defaultOutputDir,
		cond:      c,
		n:         n,
		kern:      k,
		size:      1,
	}, nil
}

// NewDistributed builds one rank of a group run over an n x n lattice.
// initial is the complete flattened grid on rank 0 and ignored elsewhere.
// Rank and group size are snapshot from the communicator at construction.
func NewDistributed(initial []float64, n int, d grid.Domain, f grid.ForceFunc,
	cm comm.Communicator, c Conditions) (*Solver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, fmt.Errorf("solver: nil communicator")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	lay, err := partition.New(n, cm.Size())
	if err != nil {
		return nil, err
	}
	if cm.Rank() == 0 && len(initial) != n*n {
		return nil, fmt.Errorf("%w: %d values for a %dx%d lattice", ErrGridSize, len(initial), n, n)
	}
	return &Solver{
		Log:       silentLogger(),
		OutputDir: defaultOutputDir,
		cond:      c,
		n:         n,
		comm:      cm,
		rank:      cm.Rank(),
		size:      cm.Size(),
		topo:      Chain{Rank: cm.Rank(), Size: cm.Size()},
		lay:       lay,
		initial:   initial,
		dom:       d,
		force:     f,
	}, nil
}

// RunSequential sweeps with a single worker until termination. The caller's
// kernel holds the solution.
func (s *Solver) RunSequential() (Stats, error) {
	return s.runLocal(1)
}

// RunParallel sweeps with the given number of worker threads per sweep. The
// caller's kernel holds the solution.
func (s *Solver) RunParallel(threads int) (Stats, error) {
	return s.runLocal(threads)
}

func (s *Solver) runLocal(threads int) (Stats, error) {
	if s.comm != nil {
		return Stats{}, fmt.Errorf("%w: solver built for a group of %d ranks", ErrMode, s.size)
	}
	_, st, err := s.loop(s.kern, nil, threads)
	return st, err
}

// RunDistributed scatters the initial grid, sweeps with the given number of
// worker threads on every rank, and gathers and writes the solution at rank
// 0, which also gets the reassembled mesh; other ranks get nil.
func (s *Solver) RunDistributed(threads int) (*grid.Mesh, Stats, error) {
	if s.comm == nil {
		return nil, Stats{}, fmt.Errorf("%w: solver built single-process", ErrMode)
	}
	local, err := scatter(s.comm, s.lay, s.initial)
	if err != nil {
		return nil, Stats{}, err
	}
	s.Log.Debug("scattered initial grid", "rank", s.rank, "slice", len(local))

	b := s.lay.Block(s.rank)
	kern, err := grid.NewWindow(local, s.n, b.Start(), s.n, s.dom, s.force)
	if err != nil {
		return nil, Stats{}, err
	}
	ex := newExchanger(s.comm, s.topo, s.lay.OffsetsFor(s.rank), s.n)
	return s.loop(kern, ex, threads)
}

// loop is the one relaxation state machine every run mode drives: sweep
// unless latched, exchange halos, agree on termination, install halos and go
// again. Single-process runs simply skip the exchange and reduce steps.
func (s *Solver) loop(kern Kernel, ex *exchanger, threads int) (*grid.Mesh, Stats, error) {
	if threads < 1 {
		threads = 1
	}
	var (
		latched   bool
		converged bool
		iter      = 1
		sweep     time.Duration
	)
	buf := make([]float64, len(kern.Values()))

	for {
		if !latched {
			start := time.Now()
			kern.Update(threads)
			sweep += time.Since(start)

			e := kern.Error()
			switch {
			case e < s.cond.Tolerance:
				latched, converged = true, true
			case iter == s.cond.MaxIterations-1:
				latched = true
			}
			if latched {
				s.Log.Debug("rank latched", "rank", s.rank, "iter", iter,
					"error", e, "converged", converged)
			}
		}

		if ex != nil && s.size > 1 {
			copy(buf, kern.Values())
			if err := ex.exchange(buf); err != nil {
				return nil, Stats{}, err
			}
		}

		done := latched
		if s.comm != nil {
			var err error
			done, err = s.comm.AllReduceBool(latched)
			if err != nil {
				return nil, Stats{}, fmt.Errorf("solver: convergence check: %w", err)
			}
		}
		if done {
			break
		}

		if ex != nil && s.size > 1 {
			if err := kern.SetValues(buf); err != nil {
				return nil, Stats{}, err
			}
		}
		iter++
	}
	return s.finish(kern, iter, sweep, converged)
}

// finish assembles the run statistics, averages sweep time across the
// group, writes the solution artifact, and prints the summary line on the
// coordinating rank
func (s *Solver) finish(kern Kernel, iter int, sweep time.Duration, converged bool) (*grid.Mesh, Stats, error) {
	st := Stats{Iterations: iter, Converged: converged, SweepTime: sweep}

	if s.comm == nil {
		st.PerSweep = st.SweepTime / time.Duration(iter)
		rows, _ := kern.Size()
		path := s.outputPath(rows)
		if err := kern.Write(path); err != nil {
			return nil, Stats{}, err
		}
		st.OutputPath = path
		s.printSummary(st)
		return nil, st, nil
	}

	ms, err := s.comm.AllReduceSum(float64(sweep) / float64(time.Millisecond))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("solver: timing reduction: %w", err)
	}
	st.SweepTime = time.Duration(ms / float64(s.size) * float64(time.Millisecond))
	st.PerSweep = st.SweepTime / time.Duration(iter)

	full, err := gatherGrid(s.comm, s.lay, kern.Values())
	if err != nil {
		return nil, Stats{}, err
	}
	if s.rank != 0 {
		return nil, st, nil
	}

	final, err := grid.New(full, s.n, s.dom, s.force)
	if err != nil {
		return nil, Stats{}, err
	}
	path := s.outputPath(s.n)
	if err := final.Write(path); err != nil {
		return nil, Stats{}, err
	}
	st.OutputPath = path
	s.Log.Info("wrote solution", "path", path, "iterations", st.Iterations)
	s.printSummary(st)
	return final, st, nil
}

func (s *Solver) outputPath(rows int) string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("approx_sol-%d-%d.vtk", s.size, rows))
}

func (s *Solver) printSummary(st Stats) {
	ms := float64(st.SweepTime) / float64(time.Millisecond)
	fmt.Printf("Iter: %d - time: %g ms - Mean time each update: %g ms\n",
		st.Iterations, ms, ms/float64(st.Iterations))
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
