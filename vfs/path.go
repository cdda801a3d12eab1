package vfs

import "strings"

// Path is a parsed textual path: an ordered sequence of non-empty component
// names plus a flag recording whether the original text began at the root
// separator.
type Path struct {
	Components []string
	IsRoot     bool
}

// ParsePath splits a textual path on "/". Consecutive separators collapse,
// a trailing separator is ignored, and "." components are dropped. ".." is
// not resolved here -- an unknown name is simply a lookup failure for the
// mediator to report.
func ParsePath(text string) Path {
	if text == "" {
		return Path{}
	}

	isRoot := strings.HasPrefix(text, "/")
	rawParts := strings.Split(text, "/")

	components := make([]string, 0, len(rawParts))
	for _, part := range rawParts {
		if part == "" || part == "." {
			continue
		}
		components = append(components, part)
	}

	return Path{Components: components, IsRoot: isRoot}
}

// String renders the path back into "/"-separated text.
func (p Path) String() string {
	joined := strings.Join(p.Components, "/")
	if p.IsRoot {
		return "/" + joined
	}
	return joined
}
