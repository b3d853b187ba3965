package dashboard

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Filter selects roster entries by completeness.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterPending  Filter = "pending"
	FilterComplete Filter = "complete"
)

// ParseFilter accepts all, pending or complete. Empty means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterComplete:
		return f, nil
	}

	return "", fmt.Errorf("unknown filter %q (want all, pending or complete)", s)
}

// Entry is a camper with its completeness.
type Entry struct {
	Camper   `yaml:",inline"`
	Details  `yaml:",inline"`
	Complete bool `json:"complete" yaml:"complete"`
}

func newEntry(c Camper, d Details) Entry {
	return Entry{
		Camper:   c,
		Details:  d,
		Complete: c.MainVideoURL != "" && d.HasDreams && d.HasProjects && d.HasVideos,
	}
}

// Roster is every camper with details, in backend order.
type Roster struct {
	Entries []Entry
}

// Summary counts the roster.
type Summary struct {
	Total      int `json:"total" yaml:"total"`
	Incomplete int `json:"incomplete" yaml:"incomplete"`
}

// Summary returns the total and incomplete counts.
func (r *Roster) Summary() Summary {
	s := Summary{Total: len(r.Entries)}
	for _, e := range r.Entries {
		if !e.Complete {
			s.Incomplete++
		}
	}

	return s
}

// Filter returns the entries whose full name contains search, ignoring
// case and accents, narrowed by completeness.
func (r *Roster) Filter(search string, f Filter) []Entry {
	needle := foldName(search)

	out := make([]Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		switch {
		case f == FilterPending && e.Complete:
			continue
		case f == FilterComplete && !e.Complete:
			continue
		}

		if needle != "" && !strings.Contains(foldName(e.FullName), needle) {
			continue
		}

		out = append(out, e)
	}

	return out
}

// foldName lowercases and strips combining marks so "José" matches "jose".
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)

	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		return strings.ToLower(s)
	}

	return out
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T `json:"items" yaml:"items"`
	Page       int `json:"page" yaml:"page"`
	Size       int `json:"size" yaml:"size"`
	Total      int `json:"total" yaml:"total"`
	TotalPages int `json:"total_pages" yaml:"total_pages"`
}

// Paginate returns the 1-based page of items. A page past the end is
// empty; page and size below 1 are treated as 1 and the whole list.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size < 1 {
		size = len(items)
		if size == 0 {
			size = 1
		}
	}

	if page < 1 {
		page = 1
	}

	p := Page[T]{Page: page, Size: size, Total: len(items)}
	if len(items) > 0 {
		p.TotalPages = (len(items)-1)/size + 1
	}

	// Compare page numbers rather than offsets; (page-1)*size can overflow.
	if page > p.TotalPages {
		p.Items = []T{}
		return p
	}

	start := (page - 1) * size
	end := start + min(size, len(items)-start)
	p.Items = items[start:end]

	return p
}
