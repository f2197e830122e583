package dv

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortOrder selects how SortFiles orders a file list.
type SortOrder string

const (
	SortBySlot SortOrder = "slot" // ascending slot index
	SortByName SortOrder = "name" // collated, case-insensitive
	SortByDate SortOrder = "date" // newest first
	SortBySize SortOrder = "size" // largest first
)

// ParseSortOrder converts a user-supplied order name. Unknown names return false.
func ParseSortOrder(s string) (SortOrder, bool) {
	switch o := SortOrder(strings.ToLower(s)); o {
	case SortBySlot, SortByName, SortByDate, SortBySize:
		return o, true
	}
	return "", false
}

// SortFiles returns a sorted copy of files. Ties keep slot order.
func SortFiles(files []ActiveFile, order SortOrder) []ActiveFile {
	out := make([]ActiveFile, len(files))
	copy(out, files)

	var less func(a, b *ActiveFile) bool
	switch order {
	case SortByName:
		c := collate.New(language.Und, collate.IgnoreCase)
		less = func(a, b *ActiveFile) bool { return c.CompareString(a.Name, b.Name) < 0 }
	case SortByDate:
		less = func(a, b *ActiveFile) bool { return a.UploadedAt.After(b.UploadedAt) }
	case SortBySize:
		less = func(a, b *ActiveFile) bool { return a.SizeBytes > b.SizeBytes }
	default:
		less = func(a, b *ActiveFile) bool { return a.Index < b.Index }
	}

	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

// FilterFiles returns the files whose name contains search (case-insensitive)
// and, when typ is non-empty, whose classification is typ.
func FilterFiles(files []ActiveFile, search string, typ FileType) []ActiveFile {
	search = strings.ToLower(strings.TrimSpace(search))
	var out []ActiveFile
	for _, f := range files {
		if typ != "" && f.Type != typ {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(f.Name), search) {
			continue
		}
		out = append(out, f)
	}
	return out
}
