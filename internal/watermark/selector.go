package watermark

import (
	"sort"
	"strings"

	"github.com/ignite/arukereso-extractor/internal/remote"
)

// Selection is the outcome of comparing a listing against a watermark.
type Selection struct {
	Files     []remote.Entry
	Watermark float64
}

// Empty reports whether there is nothing to process.
func (s Selection) Empty() bool { return len(s.Files) == 0 }

// Select keeps files newer than previous whose name starts with prefix, oldest
// first. The returned watermark is the max of previous and every kept file's
// modification time; skipped files never move it.
func Select(entries []remote.Entry, previous float64, prefix string) Selection {
	sel := Selection{Watermark: previous}
	for _, e := range entries {
		if e.IsDir || !strings.HasPrefix(e.Name, prefix) || e.ModTime <= previous {
			continue
		}
		sel.Files = append(sel.Files, e)
		if e.ModTime > sel.Watermark {
			sel.Watermark = e.ModTime
		}
	}
	sort.SliceStable(sel.Files, func(i, j int) bool {
		if sel.Files[i].ModTime != sel.Files[j].ModTime {
			return sel.Files[i].ModTime < sel.Files[j].ModTime
		}
		return sel.Files[i].Name < sel.Files[j].Name
	})
	return sel
}
