// Package inifile reads the minifast.ini configuration format.
//
// Sections are case-insensitive, keys are lower-cased, `#` and `;` start
// comment lines, and values may be wrapped in single or double quotes to keep
// leading or trailing whitespace.
package inifile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("ini syntax error")

// File represents a parsed INI file.
type File struct {
	Sections []Section
}

// Section represents a named section in an INI file.
type Section struct {
	Name   string // e.g. "app", "db.default"
	Values []KeyValue
}

// KeyValue represents a key-value pair and the line it was read from.
type KeyValue struct {
	Key   string
	Value string
	Line  int
}

// Parse reads an INI file from the given reader.
// Keys outside a section and lines without "=" are syntax errors.
func Parse(r io.Reader) (*File, error) {
	f := &File{}
	var current *Section

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: line %d: unterminated section header %q", ErrSyntax, lineNo, line)
			}
			name := strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if name == "" {
				return nil, fmt.Errorf("%w: line %d: empty section name", ErrSyntax, lineNo)
			}
			current = f.section(name)
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("%w: line %d: key outside of a section", ErrSyntax, lineNo)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key = value, got %q", ErrSyntax, lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, fmt.Errorf("%w: line %d: empty key", ErrSyntax, lineNo)
		}
		current.Values = append(current.Values, KeyValue{
			Key:   key,
			Value: unquote(strings.TrimSpace(value)),
			Line:  lineNo,
		})
	}

	return f, scanner.Err()
}

// ParseFile reads and parses an INI file from disk.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	parsed, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}

// section returns the named section, creating it when absent so repeated
// headers merge into one section.
func (f *File) section(name string) *Section {
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i]
		}
	}
	f.Sections = append(f.Sections, Section{Name: name})
	return &f.Sections[len(f.Sections)-1]
}

// Section returns the section with the given name (case-insensitive).
func (f *File) Section(name string) *Section {
	name = strings.ToLower(name)
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i]
		}
	}
	return nil
}

// Get returns the last value for a key in a section.
func (f *File) Get(section, key string) string {
	s := f.Section(section)
	if s == nil {
		return ""
	}
	return s.Get(key)
}

// SectionsWithPrefix returns sections whose names start with prefix.
func (f *File) SectionsWithPrefix(prefix string) []Section {
	prefix = strings.ToLower(prefix)
	var result []Section
	for _, s := range f.Sections {
		if strings.HasPrefix(s.Name, prefix) {
			result = append(result, s)
		}
	}
	return result
}

// Get returns the last value for a key (case-insensitive).
func (s *Section) Get(key string) string {
	kv, _ := s.lookup(key)
	return kv.Value
}

// HasKey returns true if the section contains the given key.
func (s *Section) HasKey(key string) bool {
	_, ok := s.lookup(key)
	return ok
}

// Bool parses the key as a boolean. Missing keys yield def.
func (s *Section) Bool(key string, def bool) (bool, error) {
	kv, ok := s.lookup(key)
	if !ok || kv.Value == "" {
		return def, nil
	}
	switch strings.ToLower(kv.Value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return def, fmt.Errorf("%w: line %d: [%s] %s: invalid boolean %q", ErrSyntax, kv.Line, s.Name, kv.Key, kv.Value)
}

// Int parses the key as an integer. Missing keys yield def.
func (s *Section) Int(key string, def int) (int, error) {
	kv, ok := s.lookup(key)
	if !ok || kv.Value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(kv.Value)
	if err != nil {
		return def, fmt.Errorf("%w: line %d: [%s] %s: invalid integer %q", ErrSyntax, kv.Line, s.Name, kv.Key, kv.Value)
	}
	return n, nil
}

// Float parses the key as a float. Missing keys yield def.
func (s *Section) Float(key string, def float64) (float64, error) {
	kv, ok := s.lookup(key)
	if !ok || kv.Value == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(kv.Value, 64)
	if err != nil {
		return def, fmt.Errorf("%w: line %d: [%s] %s: invalid number %q", ErrSyntax, kv.Line, s.Name, kv.Key, kv.Value)
	}
	return n, nil
}

// Strings splits the key on commas, trimming blanks and dropping empty entries.
func (s *Section) Strings(key string) []string {
	var out []string
	for _, p := range strings.Split(s.Get(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetAll returns all values for a key (case-insensitive), in file order.
func (s *Section) GetAll(key string) []string {
	key = strings.ToLower(key)
	var result []string
	for _, kv := range s.Values {
		if kv.Key == key {
			result = append(result, kv.Value)
		}
	}
	return result
}

func (s *Section) lookup(key string) (KeyValue, bool) {
	if s == nil {
		return KeyValue{}, false
	}
	key = strings.ToLower(key)
	var (
		found KeyValue
		ok    bool
	)
	for _, kv := range s.Values {
		if kv.Key == key {
			found, ok = kv, true
		}
	}
	return found, ok
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
