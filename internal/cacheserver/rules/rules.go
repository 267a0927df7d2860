// Package rules applies per-path Cache-Control overrides to origin
// responses, for origins that don't send useful caching directives of
// their own.
package rules

import (
	"net/http"
	"strings"
)

// Rule matches an origin response by request method/path/prefix/query
// and adjusts its headers.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Method   string            `yaml:"method"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Rules is an ordered list of Rule; the first match wins.
type Rules []Rule

// Apply mutates res's headers according to the first matching rule, if
// any. Only successful (200) responses are candidates, since overriding
// cache behavior for errors is rarely what an operator wants.
func (rs Rules) Apply(req *http.Request, header http.Header, statusCode int) {
	if statusCode != http.StatusOK {
		return
	}
	rule, ok := rs.find(req)
	if !ok {
		return
	}
	if rule.Override != "" {
		header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && header.Get("Cache-Control") == "" {
		header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		header.Set(name, value)
	}
}

func (rs Rules) find(req *http.Request) (Rule, bool) {
ruleLoop:
	for _, rule := range rs {
		if rule.Method == "" && req.Method != http.MethodGet {
			continue
		}
		if rule.Method != "" && rule.Method != req.Method {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			q := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !q.Has(name) {
					continue ruleLoop
				}
				if value != "" && q.Get(name) != value {
					continue ruleLoop
				}
			}
		}
		return rule, true
	}
	return Rule{}, false
}
