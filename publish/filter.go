package publish

import (
	"fmt"

	"github.com/gobwas/glob"
)

// StreamFilter selects which streams get published using glob patterns.
type StreamFilter struct {
	includeGlobs []glob.Glob
	excludeGlobs []glob.Glob
}

// NewStreamFilter creates a glob-based stream filter. A stream matches when
// it matches any include pattern (empty includes match everything) and no
// exclude pattern.
func NewStreamFilter(includePatterns, excludePatterns []string) (*StreamFilter, error) {
	filter := &StreamFilter{
		includeGlobs: make([]glob.Glob, 0, len(includePatterns)),
		excludeGlobs: make([]glob.Glob, 0, len(excludePatterns)),
	}

	for _, pattern := range includePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid stream pattern %q: %w", pattern, err)
		}
		filter.includeGlobs = append(filter.includeGlobs, g)
	}

	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		filter.excludeGlobs = append(filter.excludeGlobs, g)
	}

	return filter, nil
}

// Match returns true if the stream should be published.
func (f *StreamFilter) Match(stream string) bool {
	included := len(f.includeGlobs) == 0
	for _, g := range f.includeGlobs {
		if g.Match(stream) {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, g := range f.excludeGlobs {
		if g.Match(stream) {
			return false
		}
	}
	return true
}
