package filter

import (
	"regexp"

	"github.com/maypok86/otter"
)

const defaultRegexCacheSize = 256

type compiled struct {
	re  *regexp.Regexp
	err error
}

// regexCache keeps compiled patterns, failures included, keyed by case flag
// and pattern.
type regexCache struct {
	cache otter.Cache[string, compiled]
}

func newRegexCache(size int) (*regexCache, error) {
	if size <= 0 {
		size = defaultRegexCacheSize
	}
	c, err := otter.MustBuilder[string, compiled](size).
		Cost(func(_ string, _ compiled) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, err
	}
	return &regexCache{cache: c}, nil
}

func (c *regexCache) get(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := "i:" + pattern
	expr := "(?i)" + pattern
	if caseSensitive {
		key = "s:" + pattern
		expr = pattern
	}
	if v, ok := c.cache.Get(key); ok {
		return v.re, v.err
	}
	re, err := regexp.Compile(expr)
	c.cache.Set(key, compiled{re: re, err: err})
	return re, err
}
