package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldTag is a parsed receiver tag such as `post:"priority=10"`.
type fieldTag struct {
	skip     bool
	priority int
}

func parseTag(raw string) (fieldTag, error) {
	raw = strings.TrimSpace(raw)
	if raw == "-" {
		return fieldTag{skip: true}, nil
	}
	var tag fieldTag
	if raw == "" {
		return tag, nil
	}
	for _, opt := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(opt, "=")
		name = strings.TrimSpace(name)
		switch {
		case name == "priority" && ok:
			p, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fieldTag{}, fmt.Errorf("%w: priority %q: %v", ErrInvalidTag, value, err)
			}
			tag.priority = p
		default:
			return fieldTag{}, fmt.Errorf("%w: unknown option %q", ErrInvalidTag, opt)
		}
	}
	return tag, nil
}
