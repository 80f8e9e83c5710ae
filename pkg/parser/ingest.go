package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kpotier/aimd/pkg/store"
	"github.com/kpotier/aimd/pkg/traj"
	"github.com/kpotier/aimd/pkg/traj/outcar"
	"github.com/kpotier/aimd/pkg/traj/vasprun"
)

// ReadTrajectory reads the frames of path. The reader is chosen from the file
// name.
func ReadTrajectory(path string) ([]traj.Frame, error) {
	t, err := traj.TypeOf(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch t {
	case traj.TVasprun:
		return vasprun.ReadFile(path)
	case traj.TOutcar:
		return outcar.ReadFile(path)
	}

	return nil, traj.ErrUnsupported
}

// Summary counts what has been done by Run.
type Summary struct {
	Stored int
	Failed int
	Frames int
}

// Ingester reads the trajectories of the jobs and stores them.
type Ingester struct {
	Store *store.Store
	Log   *zap.Logger

	// Jobs is the number of trajectories read at the same time. GOMAXPROCS
	// if lower or equal to 0
	Jobs int

	// Strict stops at the first failed job. Otherwise the failed jobs are
	// written into ErrorFile and the others are stored
	Strict bool

	ErrorFile     string
	CompletedFile string
}

// NewIngester returns an Ingester whose log files are named after the
// database (test.db gives test_error.txt and test_completed.txt). The
// details layout is strict.
func NewIngester(s *store.Store, log *zap.Logger, layout Layout) *Ingester {
	base := strings.TrimSuffix(s.Path(), filepath.Ext(s.Path()))
	return &Ingester{
		Store:         s,
		Log:           log,
		Strict:        layout == LDetails || layout == "",
		ErrorFile:     base + "_error.txt",
		CompletedFile: base + "_completed.txt",
	}
}

type result struct {
	job    Job
	frames []traj.Frame
	err    error
}

// Run reads the trajectories concurrently and writes them one run at a time.
func (in *Ingester) Run(ctx context.Context, jobs []Job) (Summary, error) {
	var sum Summary

	n := in.Jobs
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	results := make(chan result)
	var readErr error
	go func() {
		defer close(results)
		for _, j := range jobs {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := in.read(j)
				select {
				case results <- r:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		readErr = g.Wait()
	}()

	// Once fatal is set, the results are drained and dropped
	var fatal error
	stop := func(err error) {
		if fatal == nil {
			fatal = err
			cancel()
		}
	}

	for r := range results {
		if fatal != nil {
			continue
		}

		if r.err != nil {
			sum.Failed++
			in.Log.Warn("Could not store", zap.String("folder", r.job.Folder), zap.Error(r.err))
			if in.Strict {
				stop(fmt.Errorf("%s: %w", r.job.Folder, r.err))
				continue
			}
			if err := appendLine(in.ErrorFile, "Could not store "+r.job.Folder); err != nil {
				stop(err)
			}
			continue
		}

		written, err := in.Store.WriteFrames(ctx, r.job.State, r.job.RunNumber, r.frames)
		if err != nil {
			stop(fmt.Errorf("%s: %w", r.job.Folder, err))
			continue
		}

		sum.Stored++
		sum.Frames += written
		in.Log.Info("Stored", zap.String("folder", r.job.Folder),
			zap.String("state", r.job.State), zap.Int("run_number", r.job.RunNumber),
			zap.Int("frames", written))

		if err := appendLine(in.CompletedFile, r.job.Folder); err != nil {
			stop(err)
		}
	}

	if fatal != nil {
		return sum, fatal
	}
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return sum, readErr
	}
	return sum, ctx.Err()
}

// read reads the trajectory of j. A truncated vasprun.xml is kept if at least
// one frame could be read.
func (in *Ingester) read(j Job) result {
	if j.Err != nil {
		return result{job: j, err: j.Err}
	}

	frames, err := ReadTrajectory(j.File)
	if errors.Is(err, traj.ErrTruncated) && len(frames) > 0 {
		in.Log.Warn("Truncated trajectory, keeping the complete frames",
			zap.String("file", j.File), zap.Int("frames", len(frames)))
		err = nil
	}
	if err == nil && len(frames) == 0 {
		err = fmt.Errorf("no frame in %s", j.File)
	}

	return result{job: j, frames: frames, err: err}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(f, line)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
