package nn

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var ErrNoClassNames = errors.New("No class names found in model metadata")

var classNameEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

// ParseClassNames parses the "names" entry that ultralytics writes into the
// metadata of exported models, eg "{0: 'person', 1: 'bicycle'}".
// The class ids must be dense, starting at zero.
func ParseClassNames(meta string) ([]string, error) {
	matches := classNameEntry.FindAllStringSubmatch(meta, -1)
	if len(matches) == 0 {
		return nil, ErrNoClassNames
	}
	names := make([]string, len(matches))
	seen := make([]bool, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || id >= len(names) {
			return nil, fmt.Errorf("Class id %v out of range (%v classes)", m[1], len(names))
		}
		if seen[id] {
			return nil, fmt.Errorf("Duplicate class id %v", id)
		}
		seen[id] = true
		if m[2] != "" {
			names[id] = m[2]
		} else {
			names[id] = m[3]
		}
	}
	return names, nil
}

// ClassIndex returns the index of the named class, or -1
func ClassIndex(classes []string, name string) int {
	for i, c := range classes {
		if c == name {
			return i
		}
	}
	return -1
}
