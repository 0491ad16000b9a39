// Copyright (c) 2017 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package path provides gNMI path splitting, printing and escaping
// helpers, and the Elasticsearch index-name derivation used by the
// search-index sink.
package path

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	pb "github.com/openconfig/gnmi/proto/gnmi"
)

// nextTokenIndex returns the end index of the first token, treating
// anything inside unescaped square brackets as opaque so that key
// values containing "/" don't get split as path separators.
func nextTokenIndex(path string) int {
	var inBrackets bool
	var escape bool
	for i, c := range path {
		switch c {
		case '[':
			inBrackets = true
			escape = false
		case ']':
			if !escape {
				inBrackets = false
			}
			escape = false
		case '\\':
			escape = !escape
		case '/':
			if !inBrackets && !escape {
				return i
			}
			escape = false
		default:
			escape = false
		}
	}
	return len(path)
}

// Split splits a "/"-separated yang or gNMI path into its elements,
// honoring "[key=value]" list predicates that may themselves contain
// an escaped "/".
func Split(path string) []string {
	var result []string
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	for len(path) > 0 {
		i := nextTokenIndex(path)
		result = append(result, path[:i])
		path = path[i:]
		if len(path) > 0 && path[0] == '/' {
			path = path[1:]
		}
	}
	return result
}

// Join merges a yang path prefix and a subpath: a non-empty prefix
// and non-empty subpath are joined with a single "/", and an empty
// side yields the other side alone. Yang paths carry no leading "/"
// (the module origin, when present, is the root).
func Join(prefix, subPath string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	subPath = strings.TrimPrefix(subPath, "/")
	switch {
	case prefix == "":
		return subPath
	case subPath == "":
		return prefix
	default:
		return prefix + "/" + subPath
	}
}

// Render builds the yang-path form of a gNMI path: the origin (when
// set) joined to the element names with ":", elements joined with
// "/", list-key predicates omitted. Keys are carried separately in
// the record's Keys map, so "interface[name=Gi0]/state" renders as
// "interface/state".
func Render(p *pb.Path) string {
	if p == nil {
		return ""
	}
	b := &strings.Builder{}
	if o := p.GetOrigin(); o != "" {
		b.WriteString(o)
		b.WriteByte(':')
	}
	for i, elm := range p.GetElem() {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(elm.GetName())
	}
	return b.String()
}

// StrPath builds a human-readable form of a gNMI path, e.g. /a/b/c[e=f].
func StrPath(p *pb.Path) string {
	if p == nil {
		return "/"
	}
	b := &strings.Builder{}
	for _, elm := range p.Elem {
		b.WriteRune('/')
		writeElem(b, elm)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func writeKey(b *strings.Builder, key map[string]string) {
	keys := make([]string, 0, len(key))
	for k := range key {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('[')
		b.WriteString(escapeKey(k))
		b.WriteByte('=')
		b.WriteString(escapeValue(key[k]))
		b.WriteByte(']')
	}
}

func writeElem(b *strings.Builder, elm *pb.PathElem) {
	b.WriteString(escapeName(elm.Name))
	if len(elm.Key) > 0 {
		writeKey(b, elm.Key)
	}
}

func escapeKey(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `=`, `\=`)
	return s
}

func escapeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `]`, `\]`)
	return s
}

func escapeName(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `/`, `\/`)
	s = strings.ReplaceAll(s, `[`, `\[`)
	return s
}

// Parse builds a gNMI Path from a slice of user-supplied path
// elements of the form "name" or "name[key=value]".
func Parse(elms []string) (*pb.Path, error) {
	var parsed []*pb.PathElem
	for _, e := range elms {
		n, keys, err := parseElement(e)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, &pb.PathElem{Name: n, Key: keys})
	}
	return &pb.Path{Elem: parsed}, nil
}

// ParseString splits and parses a "/"-rooted path string directly
// into a gNMI Path.
func ParseString(p string) (*pb.Path, error) {
	return Parse(Split(p))
}

func parseElement(pathElement string) (string, map[string]string, error) {
	name, keyStart := findUnescaped(pathElement, '[')
	if keyStart < 0 {
		return name, nil, nil
	}
	if len(name) == 0 {
		return "", nil, fmt.Errorf("failed to find element name in %q", pathElement)
	}
	keys := make(map[string]string)
	keyPart := pathElement[keyStart:]
	for keyPart != "" {
		k, v, nextKey, err := parseKey(keyPart)
		if err != nil {
			return "", nil, err
		}
		keys[k] = v
		keyPart = nextKey
	}
	return name, keys, nil
}

func parseKey(s string) (string, string, string, error) {
	if s[0] != '[' {
		return "", "", "", fmt.Errorf("failed to find opening '[' in %q", s)
	}
	k, iEq := findUnescaped(s[1:], '=')
	if iEq < 0 {
		return "", "", "", fmt.Errorf("failed to find '=' in %q", s)
	}
	rhs := s[1+iEq+1:]
	v, iClosBr := findUnescaped(rhs, ']')
	if iClosBr < 0 {
		return "", "", "", fmt.Errorf("failed to find ']' in %q", s)
	}
	next := rhs[iClosBr+1:]
	return k, v, next, nil
}

func findUnescaped(s string, find byte) (string, int) {
	if strings.IndexByte(s, '\\') == -1 {
		i := strings.IndexByte(s, find)
		if i < 0 {
			return s, -1
		}
		return s[:i], i
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == find {
			return b.String(), i
		} else if ch == '\\' && i < len(s)-1 {
			i++
			ch = s[i]
		}
		b.WriteByte(ch)
	}
	return b.String(), -1
}

// maxIndexNameBytes is the limit Elasticsearch enforces on index
// names.
const maxIndexNameBytes = 255

// IndexName derives a search-index name from a yang path and a
// record date: the path is URL-decoded, lowercased, "/" ":" "[" are
// replaced with "-", "]" and '"' are dropped, a "-YYYY.MM.DD" suffix
// is appended, and leading "-"-joined segments are trimmed from the
// front until the whole name fits within 255 bytes.
func IndexName(yangPath string, date time.Time) string {
	decoded, err := url.QueryUnescape(yangPath)
	if err != nil {
		decoded = yangPath
	}
	index := strings.ToLower(decoded)
	index = strings.NewReplacer(
		"/", "-",
		":", "-",
		"[", "-",
		"]", "",
		`"`, "",
	).Replace(index)
	index = strings.Trim(index, "-")

	suffix := "-" + date.Format("2006.01.02")
	for len(index)+len(suffix) > maxIndexNameBytes {
		segs := strings.Split(index, "-")
		if len(segs) <= 1 {
			index = index[:maxIndexNameBytes-len(suffix)]
			break
		}
		index = strings.Join(segs[1:], "-")
	}
	return index + suffix
}
