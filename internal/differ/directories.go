package differ

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	difflib "github.com/pmezard/go-difflib/difflib"
)

// FileStatus classifies a file-level difference.
type FileStatus string

const (
	// FileMissing: generated but not committed.
	FileMissing FileStatus = "missing"
	// FileExtra: committed but no longer generated.
	FileExtra FileStatus = "extra"
	// FileModified: present in both with different content.
	FileModified FileStatus = "modified"
)

// FileDiff describes one differing file, relative to the compared roots.
type FileDiff struct {
	File    string     `json:"file"`
	Status  FileStatus `json:"status"`
	Message string     `json:"message"`
	Patch   string     `json:"patch,omitempty"`
}

// CompareDirectories lists every difference between the committed output tree and
// a freshly generated candidate tree. A missing committed directory is treated as
// empty; the candidate directory must exist.
func CompareDirectories(committedDir, candidateDir string) ([]FileDiff, error) {
	candidate, err := listFiles(candidateDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading generated output %s", candidateDir)
	}
	committed, err := listFiles(committedDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "reading committed output %s", committedDir)
		}
		committed = map[string]struct{}{}
	}

	names := make([]string, 0, len(candidate)+len(committed))
	for f := range candidate {
		names = append(names, f)
	}
	for f := range committed {
		if _, ok := candidate[f]; !ok {
			names = append(names, f)
		}
	}
	sort.Strings(names)

	var diffs []FileDiff
	for _, name := range names {
		_, inCandidate := candidate[name]
		_, inCommitted := committed[name]

		switch {
		case inCandidate && !inCommitted:
			b, err := os.ReadFile(filepath.Join(candidateDir, name))
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", name)
			}
			diffs = append(diffs, FileDiff{
				File:    name,
				Status:  FileMissing,
				Message: "missing from committed output",
				Patch:   unified("/dev/null", "b/"+name, nil, b),
			})
		case inCommitted && !inCandidate:
			a, err := os.ReadFile(filepath.Join(committedDir, name))
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", name)
			}
			diffs = append(diffs, FileDiff{
				File:    name,
				Status:  FileExtra,
				Message: "not produced by the generator",
				Patch:   unified("a/"+name, "/dev/null", a, nil),
			})
		default:
			a, err := os.ReadFile(filepath.Join(committedDir, name))
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", name)
			}
			b, err := os.ReadFile(filepath.Join(candidateDir, name))
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", name)
			}
			if bytes.Equal(a, b) {
				continue
			}
			diffs = append(diffs, FileDiff{
				File:    name,
				Status:  FileModified,
				Message: "content differs",
				Patch:   unified("a/"+name, "b/"+name, a, b),
			})
		}
	}
	return diffs, nil
}

func listFiles(root string) (map[string]struct{}, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	files := map[string]struct{}{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	return files, err
}

func unified(aName, bName string, a, b []byte) string {
	u := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  3,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return fmt.Sprintf("--- %s\n+++ %s\n@@ patch unavailable: %v @@\n", aName, bName, err)
	}
	return s
}

// MismatchError reports that committed output does not match what the
// generators produce for the current schema.
type MismatchError struct {
	Diffs []FileDiff
}

func (e *MismatchError) Error() string {
	files := make([]string, len(e.Diffs))
	for i, d := range e.Diffs {
		files[i] = fmt.Sprintf("%s (%s)", d.File, d.Status)
	}
	return fmt.Sprintf("generated types are out of date: %d file(s) differ: %s", len(e.Diffs), strings.Join(files, ", "))
}
