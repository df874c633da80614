package session

import (
	"net/http"
	"strings"
)

type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequiredCookieNames is the fixed set the platform needs on authenticated calls.
// Anything else it sets is noise and is not persisted.
var RequiredCookieNames = []string{"AWSALB", "AWSALBCORS", "PHPSESSID", "amhrdrauth"}

func isRequired(name string) bool {
	for _, n := range RequiredCookieNames {
		if n == name {
			return true
		}
	}
	return false
}

// FilterRequired keeps the last value seen for each required name, in the
// order of RequiredCookieNames.
func FilterRequired(in []Cookie) []Cookie {
	last := map[string]string{}
	for _, c := range in {
		if isRequired(c.Name) && c.Value != "" {
			last[c.Name] = c.Value
		}
	}
	out := make([]Cookie, 0, len(last))
	for _, n := range RequiredCookieNames {
		if v, ok := last[n]; ok {
			out = append(out, Cookie{Name: n, Value: v})
		}
	}
	return out
}

// Merge overlays updates onto base and returns the required subset.
func Merge(base, updates []Cookie) []Cookie {
	all := make([]Cookie, 0, len(base)+len(updates))
	all = append(all, base...)
	all = append(all, updates...)
	return FilterRequired(all)
}

// FromResponse extracts the required cookies a response sets.
// Cookies being cleared (MaxAge < 0) are ignored.
func FromResponse(res *http.Response) []Cookie {
	var out []Cookie
	for _, hc := range res.Cookies() {
		if hc.MaxAge < 0 {
			continue
		}
		out = append(out, Cookie{Name: hc.Name, Value: hc.Value})
	}
	return FilterRequired(out)
}

// Header renders cookies for a Cookie request header.
func Header(cs []Cookie) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// ParseHeader reads a "a=1; b=2" string (as copied from a browser) into cookies.
func ParseHeader(s string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}
