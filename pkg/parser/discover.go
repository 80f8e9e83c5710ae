// Package parser finds the outputs of the AIMD runs stored on disk and writes
// their ionic steps into the database.
package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Layout is the way the runs are organized on disk.
type Layout string

// Here are the accepted layouts.
//
// LDetails: each run folder contains a details.yaml giving its state and its
// run number, and a vasprun.xml.
//
// LRecursive: the state is the top folder and every restart is stored in a
// sub folder of the previous run. The run number is the depth.
//
// LAllInOne: all the OUTCARs of a state are in its top folder and the run
// number is the suffix of the file name (OUTCAR_3).
//
// LRunFolders: the OUTCARs are in folders named run_<number>.
var (
	LDetails    Layout = "details"
	LRecursive  Layout = "recursive"
	LAllInOne   Layout = "all_in_one"
	LRunFolders Layout = "run_folders"
)

// File names looked for.
const (
	DetailsFile = "details.yaml"
	VasprunFile = "vasprun.xml"
	OutcarFile  = "OUTCAR"
)

// Options of the discovery.
type Options struct {
	// Root is the folder in which the runs are looked for
	Root string

	// Layout is the organization of the folders. LDetails if empty
	Layout Layout

	// Consider keeps the paths whose top folder contains it
	Consider string

	// Exact keeps the paths whose top folder starts with it
	Exact string

	// Exclude drops the paths containing it
	Exclude string
}

// Job is one run to be stored. Err is set if the state or the run number
// could not be determined from the path.
type Job struct {
	// Folder identifies the run in the logs. It is relative to the root
	Folder string

	// File is the trajectory file
	File string

	State     string
	RunNumber int

	Err error
}

// ParseLayout returns the layout named s. An empty name is LDetails.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case "", LDetails:
		return LDetails, nil
	case LRecursive, LAllInOne, LRunFolders:
		return l, nil
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

// Discover walks the root folder and returns the jobs in lexical order. In the
// details layout, an invalid details.yaml stops the discovery.
func Discover(o Options) ([]Job, error) {
	layout, err := ParseLayout(string(o.Layout))
	if err != nil {
		return nil, err
	}

	root := o.Root
	if root == "" {
		root = "."
	}

	var jobs []Job
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !o.keep(rel) {
			return nil
		}

		var (
			job Job
			ok  bool
		)
		switch layout {
		case LDetails:
			job, ok, err = details(root, rel)
			if err != nil {
				return err
			}
		case LRecursive:
			job, ok = recursive(root, rel)
		case LAllInOne:
			job, ok = allInOne(root, rel)
		case LRunFolders:
			job, ok = runFolders(root, rel)
		}

		if ok {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

// keep applies the filters to a path relative to the root.
func (o Options) keep(rel string) bool {
	top, _, _ := strings.Cut(rel, "/")

	if o.Exclude != "" && strings.Contains(rel, o.Exclude) {
		return false
	}
	if o.Consider != "" && !strings.Contains(top, o.Consider) {
		return false
	}
	if o.Exact != "" && !strings.HasPrefix(top, o.Exact) {
		return false
	}
	return true
}

// topFolder returns the state given by the first folder of rel.
func topFolder(rel string) (string, error) {
	top, _, found := strings.Cut(rel, "/")
	if !found {
		return "", fmt.Errorf("%s is not inside a state folder", rel)
	}
	return top, nil
}

func details(root, rel string) (Job, bool, error) {
	if path.Base(rel) != DetailsFile {
		return Job{}, false, nil
	}

	folder := path.Dir(rel)
	dir := filepath.Join(root, filepath.FromSlash(folder))
	job := Job{Folder: folder, File: filepath.Join(dir, VasprunFile)}

	b, err := os.ReadFile(filepath.Join(dir, DetailsFile))
	if err != nil {
		return job, false, err
	}

	state, run, err := readDetails(b)
	if err != nil {
		return job, false, fmt.Errorf("%s: %w", rel, err)
	}

	if _, err := os.Stat(job.File); err != nil {
		return job, false, fmt.Errorf("%s: %w", folder, err)
	}

	job.State, job.RunNumber = state, run
	return job, true, nil
}

// readDetails decodes a details.yaml. It must contain exactly the keys state
// and run_number.
func readDetails(b []byte) (string, int, error) {
	var m map[string]any
	err := yaml.Unmarshal(b, &m)
	if err != nil {
		return "", 0, err
	}

	st, ok := m["state"]
	if !ok {
		return "", 0, errors.New("state is missing")
	}
	delete(m, "state")

	rn, ok := m["run_number"]
	if !ok {
		return "", 0, errors.New("run_number is missing")
	}
	delete(m, "run_number")

	if len(m) != 0 {
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		return "", 0, fmt.Errorf("unexpected keys %v", keys)
	}

	run, ok := rn.(int)
	if !ok {
		return "", 0, fmt.Errorf("run_number must be an integer, got %v", rn)
	}

	return fmt.Sprint(st), run, nil
}

func recursive(root, rel string) (Job, bool) {
	if path.Base(rel) != VasprunFile {
		return Job{}, false
	}

	folder := path.Dir(rel)
	job := Job{Folder: folder, File: filepath.Join(root, filepath.FromSlash(rel))}

	job.State, job.Err = topFolder(rel)
	if job.Err == nil {
		job.RunNumber = len(strings.Split(folder, "/")) - 1
	}

	return job, true
}

func allInOne(root, rel string) (Job, bool) {
	name := path.Base(rel)
	if !strings.HasPrefix(name, OutcarFile) {
		return Job{}, false
	}

	job := Job{Folder: rel, File: filepath.Join(root, filepath.FromSlash(rel))}
	job.State, job.Err = topFolder(rel)

	// OUTCAR_3 is the third run, OUTCAR alone is the first one
	if i := strings.LastIndex(name, "_"); i >= 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil {
			job.RunNumber = n
		}
	}

	return job, true
}

func runFolders(root, rel string) (Job, bool) {
	name := path.Base(rel)
	parent := path.Base(path.Dir(rel))
	if !strings.HasPrefix(name, OutcarFile) || !strings.HasPrefix(parent, "run_") {
		return Job{}, false
	}

	job := Job{Folder: rel, File: filepath.Join(root, filepath.FromSlash(rel))}
	job.State, job.Err = topFolder(rel)
	if job.Err != nil {
		return job, true
	}

	n, err := strconv.Atoi(parent[strings.LastIndex(parent, "_")+1:])
	if err != nil {
		job.Err = fmt.Errorf("run number of %s: %w", parent, err)
		return job, true
	}
	job.RunNumber = n

	return job, true
}
