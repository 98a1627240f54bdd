package fragment

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
	"github.com/sixy6e/tdbcore/vfs"
)

// OverlapsBox reports whether the fragment's bounding region intersects
// box at all, the cheap pre-filter a manifest walk applies before
// calling NextCellRanges per tile.
func (v *View) OverlapsBox(box domain.Box) bool {
	_, ok := domain.Intersect(v.Schema.CoordDType(), v.BBox, box)
	return ok
}

var committedRe = regexp.MustCompile(`^__(\d+)_(\d+)$`)
var inProgressRe = regexp.MustCompile(`^\.__(\d+)_(\d+)$`)

// CommittedName formats the on-disk directory name for a committed
// fragment (spec §6).
func CommittedName(pid, timestampMs int64) string {
	return fmt.Sprintf("__%d_%d", pid, timestampMs)
}

// InProgressName formats the on-disk directory name for a fragment
// still being written.
func InProgressName(pid, timestampMs int64) string {
	return fmt.Sprintf(".__%d_%d", pid, timestampMs)
}

// ParseCommittedName extracts the pid and timestamp embedded in a
// committed fragment's directory name, and ok=false for anything else
// (including in-progress names, which callers must already have
// skipped per spec §6).
func ParseCommittedName(name string) (pid, timestampMs int64, ok bool) {
	m := committedRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	pid, _ = strconv.ParseInt(m[1], 10, 64)
	timestampMs, _ = strconv.ParseInt(m[2], 10, 64)
	return pid, timestampMs, true
}

// Manifest is the ordered set of a single array's open fragments,
// strictly ordered by id (spec I4) so newest-wins tie-breaking is a
// simple id comparison.
type Manifest struct {
	Views []*View
}

// Discover lists root for committed fragment directories, ignoring
// any entry beginning with '.' (spec §6: "readers MUST ignore
// directories whose name begins with a single '.'"), and returns their
// directory paths ordered oldest-to-newest by the embedded timestamp,
// pid as a tiebreak for same-millisecond writers.
func Discover(ctx context.Context, fs vfs.FS, root string) ([]string, error) {
	_, dirs, err := fs.List(ctx, root)
	if err != nil {
		return nil, tdberr.New(tdberr.FragmentIO, err)
	}

	type entry struct {
		dir string
		ts  int64
		pid int64
	}
	var entries []entry
	for _, d := range dirs {
		base := path.Base(d)
		if strings.HasPrefix(base, ".") {
			continue // in-progress or hidden, spec §6
		}
		if inProgressRe.MatchString(base) {
			continue
		}
		pid, ts, ok := ParseCommittedName(base)
		if !ok {
			continue
		}
		entries = append(entries, entry{dir: d, ts: ts, pid: pid})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return entries[i].pid < entries[j].pid
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.dir
	}
	return out, nil
}

// OpenAll discovers and opens every committed fragment under root,
// assigning each a monotonically increasing ID in discovery order so
// id comparison alone decides newest-wins precedence (spec I4/P6).
// Opening is fanned out across fragments with an errgroup: each Open is
// an independent, read-only vfs call, so one slow fragment shouldn't
// serialize behind another, and the first real failure cancels the rest
// (ctx) rather than waiting for every straggler.
func OpenAll(ctx context.Context, fs vfs.FS, root string, sch *schema.Schema) (*Manifest, error) {
	dirs, err := Discover(ctx, fs, root)
	if err != nil {
		return nil, err
	}
	views := make([]*View, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dirs {
		i, d := i, d
		g.Go(func() error {
			v, err := Open(gctx, fs, d, sch)
			if err != nil {
				return err
			}
			v.ID = uint64(i)
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, v := range views {
			if v != nil {
				v.Close()
			}
		}
		return nil, err
	}
	return &Manifest{Views: views}, nil
}

// Overlapping returns, in ascending fragment-id order, every fragment
// whose bounding region intersects box.
func (m *Manifest) Overlapping(box domain.Box) []*View {
	var out []*View
	for _, v := range m.Views {
		if v.OverlapsBox(box) {
			out = append(out, v)
		}
	}
	return out
}

// Close closes every fragment in the manifest.
func (m *Manifest) Close() {
	for _, v := range m.Views {
		v.Close()
	}
}
