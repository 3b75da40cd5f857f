package transcribe

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultArtifactPrefix is what Whisper tends to hallucinate on pure noise.
const DefaultArtifactPrefix = "Subtitle Editor"

// Filter inspects a transcript. It returns a non-empty reason to drop it.
type Filter func(text string) (reason string)

// FilterChain runs filters in order; the first reason wins.
type FilterChain []Filter

// Check returns the reason the first matching filter gave, or "" if the
// transcript should be answered.
func (c FilterChain) Check(text string) string {
	for _, f := range c {
		if reason := f(text); reason != "" {
			return reason
		}
	}
	return ""
}

// Allow reports whether no filter objected to text.
func (c FilterChain) Allow(text string) bool {
	return c.Check(text) == ""
}

// DropEmpty rejects empty or whitespace-only transcripts.
func DropEmpty() Filter {
	return func(text string) string {
		if strings.TrimSpace(text) == "" {
			return "empty"
		}
		return ""
	}
}

// DropPrefix rejects transcripts starting with any of the given literals,
// ignoring leading whitespace.
func DropPrefix(prefixes ...string) Filter {
	return func(text string) string {
		t := strings.TrimSpace(text)
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(t, p) {
				return "artifact prefix " + p
			}
		}
		return ""
	}
}

// DropPattern rejects transcripts matching re.
func DropPattern(re *regexp.Regexp) Filter {
	return func(text string) string {
		if re.MatchString(text) {
			return "artifact pattern " + re.String()
		}
		return ""
	}
}

// DefaultFilters drops empty text and the Whisper "Subtitle Editor" artifact.
func DefaultFilters() FilterChain {
	return FilterChain{DropEmpty(), DropPrefix(DefaultArtifactPrefix)}
}

// BuildFilters assembles a chain from configured prefixes and regular expressions.
// Empty text is always dropped.
func BuildFilters(prefixes, patterns []string) (FilterChain, error) {
	chain := FilterChain{DropEmpty()}
	if len(prefixes) > 0 {
		chain = append(chain, DropPrefix(prefixes...))
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("transcribe: bad artifact pattern %q: %w", p, err)
		}
		chain = append(chain, DropPattern(re))
	}
	return chain, nil
}
