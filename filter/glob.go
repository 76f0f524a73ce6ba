package filter

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/event"
)

// Glob keeps events whose schema and table match the configured patterns
// and drops the rest. Empty pattern lists match everything. Statements have
// no table, so only schema patterns apply to them. Events with other
// payloads pass unchanged.
type Glob struct {
	name           string
	schemaPatterns []string
	tablePatterns  []string

	schemaGlobs []glob.Glob
	tableGlobs  []glob.Glob
}

// NewGlob creates a glob filter; patterns are compiled by Configure.
func NewGlob(name string, schemaPatterns, tablePatterns []string) *Glob {
	if name == "" {
		name = "glob"
	}
	return &Glob{name: name, schemaPatterns: schemaPatterns, tablePatterns: tablePatterns}
}

func (f *Glob) Name() string { return f.name }

func (f *Glob) Configure() error {
	var err error
	if f.schemaGlobs, err = compileAll(f.name, "schema", f.schemaPatterns); err != nil {
		return err
	}
	f.tableGlobs, err = compileAll(f.name, "table", f.tablePatterns)
	return err
}

func compileAll(filter, kind string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &ConfigurationError{Filter: filter, Reason: fmt.Sprintf("invalid %s pattern %q: %v", kind, pattern, err)}
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func (f *Glob) Prepare() error { return nil }

func (f *Glob) Process(ev *event.Event) (Decision, error) {
	switch p := ev.Payload().(type) {
	case *binlog.RowChange:
		if !f.match(p.Schema, p.Table, true) {
			return Drop(), nil
		}
	case *binlog.Statement:
		if !f.match(p.Schema, "", false) {
			return Drop(), nil
		}
	}
	return Pass(ev), nil
}

func (f *Glob) Release() error { return nil }

func (f *Glob) match(schema, table string, checkTable bool) bool {
	if !matchAny(f.schemaGlobs, schema) {
		return false
	}
	if !checkTable {
		return true
	}
	return matchAny(f.tableGlobs, table)
}

// matchAny is true for an empty pattern list.
func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
