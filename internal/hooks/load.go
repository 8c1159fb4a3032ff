package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// DefaultFiles are the hook files looked up in a working directory, in
// evaluation order.
var DefaultFiles = []string{"hooks.json", filepath.Join(".acpbridge", "hooks.yaml")}

// Set is the ordered list of valid rules loaded for one working directory.
type Set struct {
	hooks   []*hook
	sources []string
}

// Len is the number of valid rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.hooks)
}

// Sources lists the files that were found.
func (s *Set) Sources() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.sources...)
}

// Rules returns the valid rules in evaluation order.
func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.hooks))
	for i, h := range s.hooks {
		out[i] = h.rule
	}
	return out
}

func (s *Set) forEvent(ev Event) []*hook {
	if s == nil {
		return nil
	}
	var out []*hook
	for _, h := range s.hooks {
		if h.event == ev {
			out = append(out, h)
		}
	}
	return out
}

// Load reads the hook files under cwd. Missing files are skipped. Invalid
// rules are left out of the set and reported together in the error, so a
// non-nil set is returned even when err is not nil.
func Load(cwd string, files []string, defaultTimeout time.Duration) (*Set, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	set := &Set{}
	var result *multierror.Error
	for _, name := range files {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, name)
		}
		rules, err := readFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		set.sources = append(set.sources, p)
		for _, r := range rules {
			h, err := compile(r, p, defaultTimeout)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", p, err))
				continue
			}
			set.hooks = append(set.hooks, h)
		}
	}
	return set, result.ErrorOrNil()
}

func readFile(p string) ([]Rule, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return parse(p, data)
}

func parse(p string, data []byte) ([]Rule, error) {
	var doc File
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	}
	return doc.Hooks, nil
}
