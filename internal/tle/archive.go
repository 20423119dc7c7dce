package tle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrNoSnapshot is returned by Latest when the archive holds nothing.
var ErrNoSnapshot = errors.New("no archived element sets")

const (
	snapshotPrefix = "elements_"
	snapshotSuffix = ".tle"
)

// Archive keeps the most recent downloaded catalogs on disk so a restart
// without network access still has element sets to work from.
type Archive struct {
	dir  string
	keep int
}

// NewArchive stores snapshots in dir and retains at most keep of them.
func NewArchive(dir string, keep int) *Archive {
	if keep <= 0 {
		keep = 5
	}
	return &Archive{dir: dir, keep: keep}
}

// Save writes data as the snapshot fetched at ts and prunes older ones.
// The file is written under a temporary name and renamed into place.
func (a *Archive) Save(data []byte, ts time.Time) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	name := snapshotPrefix + strconv.FormatInt(ts.Unix(), 10) + snapshotSuffix
	tmp, err := os.CreateTemp(a.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(a.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return a.prune()
}

// Latest returns the newest snapshot and the time it was fetched.
func (a *Archive) Latest() ([]byte, time.Time, error) {
	snaps, err := a.snapshots()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(snaps) == 0 {
		return nil, time.Time{}, ErrNoSnapshot
	}
	last := snaps[len(snaps)-1]
	data, err := os.ReadFile(filepath.Join(a.dir, last.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading snapshot: %w", err)
	}
	return data, last.fetched, nil
}

type snapshot struct {
	name    string
	fetched time.Time
}

// snapshots lists archived files oldest first. A missing directory is an
// empty archive.
func (a *Archive) snapshots() ([]snapshot, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}

	var out []snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stamp, ok := strings.CutPrefix(e.Name(), snapshotPrefix)
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, snapshotSuffix)
		if !ok {
			continue
		}
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, snapshot{name: e.Name(), fetched: time.Unix(unix, 0).UTC()})
	}
	slices.SortFunc(out, func(x, y snapshot) int { return x.fetched.Compare(y.fetched) })
	return out, nil
}

func (a *Archive) prune() error {
	snaps, err := a.snapshots()
	if err != nil || len(snaps) <= a.keep {
		return err
	}
	var errs []error
	for _, s := range snaps[:len(snaps)-a.keep] {
		if err := os.Remove(filepath.Join(a.dir, s.name)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pruning archive: %w", err)
	}
	return nil
}
