package agent

import (
	"fmt"
	"regexp"
	"sync"
)

var (
	tagPatterns   = make(map[string]*regexp.Regexp)
	tagPatternsMu sync.Mutex
)

// ExtractTag returns the trimmed content of the first <tag>…</tag> region
// in text. Case-insensitive; the dot matches newlines.
func ExtractTag(text, tag string) (string, bool) {
	tagPatternsMu.Lock()
	re, ok := tagPatterns[tag]
	if !ok {
		re = regexp.MustCompile(fmt.Sprintf(`(?is)<%s>\s*(.*?)\s*</%s>`, regexp.QuoteMeta(tag), regexp.QuoteMeta(tag)))
		tagPatterns[tag] = re
	}
	tagPatternsMu.Unlock()

	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
