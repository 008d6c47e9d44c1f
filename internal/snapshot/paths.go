package snapshot

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// CleanPath normalizes a workspace-relative path to slash form with no
// leading "./" or "/". The workspace root is "". Paths escaping the root
// are rejected.
func CleanPath(p string) (string, error) {
	c := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("path %q escapes the workspace", p)
	}
	c = strings.TrimPrefix(c, "/")
	if c == "." {
		return "", nil
	}
	return c, nil
}

// Within reports whether p equals root or lies below it. The empty root
// contains everything.
func Within(root, p string) bool {
	return root == "" || p == root || strings.HasPrefix(p, root+"/")
}

// NormalizeRegion cleans paths, drops any path already covered by another
// and sorts the result. A region containing the root collapses to nil,
// meaning the whole workspace.
func NormalizeRegion(paths []string) ([]string, error) {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		c, err := CleanPath(p)
		if err != nil {
			return nil, err
		}
		if c == "" {
			return nil, nil
		}
		cleaned = append(cleaned, c)
	}
	slices.Sort(cleaned)
	cleaned = slices.Compact(cleaned)

	var out []string
	for _, p := range cleaned {
		covered := slices.ContainsFunc(out, func(root string) bool { return Within(root, p) })
		if !covered {
			out = append(out, p)
		}
	}
	return out, nil
}

// InRegion reports whether p falls under any root of region. A nil region
// covers the whole workspace.
func InRegion(region []string, p string) bool {
	if len(region) == 0 {
		return true
	}
	for _, root := range region {
		if Within(root, p) {
			return true
		}
	}
	return false
}

// Overlaps reports whether two normalized regions share any path.
func Overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, x := range a {
		for _, y := range b {
			if Within(x, y) || Within(y, x) {
				return true
			}
		}
	}
	return false
}
