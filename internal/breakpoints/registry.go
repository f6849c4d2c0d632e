/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package breakpoints keeps the set of source breakpoints known to the bridge.
package breakpoints

import (
	"cmp"
	"slices"
	"sync"

	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/pointers"
)

type Record struct {
	File    string
	Line    int
	Enabled bool

	// At most one of these is set, see Classify.
	Condition    *string
	HitCondition *string
	LogMessage   *string
}

func (r Record) Kind() Kind {
	switch {
	case r.LogMessage != nil:
		return KindLogMessage
	case r.HitCondition != nil:
		return KindHitCondition
	case r.Condition != nil:
		return KindCondition
	default:
		return KindUnconditional
	}
}

func (r Record) Info() protocol.Breakpoint {
	return protocol.Breakpoint{
		File:         r.File,
		Line:         r.Line,
		Enabled:      r.Enabled,
		Condition:    pointers.Duplicate(r.Condition),
		HitCondition: pointers.Duplicate(r.HitCondition),
		LogMessage:   pointers.Duplicate(r.LogMessage),
	}
}

func (r Record) equal(other Record) bool {
	return r.File == other.File && r.Line == other.Line && r.Enabled == other.Enabled &&
		pointers.EqualValue(r.Condition, other.Condition) && pointers.EqualValue(r.HitCondition, other.HitCondition) &&
		pointers.EqualValue(r.LogMessage, other.LogMessage)
}

// Change describes one mutation of the registry, using the protocol.Breakpoint* reasons.
type Change struct {
	Reason string
	Record Record

	// The record a "changed" breakpoint replaced. Its file may differ from Record.File when paths matched by suffix.
	Previous *Record
}

type Result struct {
	File        string                `json:"file,omitempty"`
	Lines       []int                 `json:"lines,omitempty"`
	Kind        Kind                  `json:"kind,omitempty"`
	Breakpoints []protocol.Breakpoint `json:"breakpoints"`

	Changes []Change `json:"-"`

	// Stored paths of every record the call matched, created or removed, sorted.
	StoredFiles []string `json:"-"`
}

func (res *Result) addStoredFile(file string) {
	if i, found := slices.BinarySearch(res.StoredFiles, file); !found {
		res.StoredFiles = slices.Insert(res.StoredFiles, i, file)
	}
}

// Registry maps (file, line) locations to breakpoint metadata.
// There is at most one record per location, where locations are compared with PathsMatch.
type Registry struct {
	mu      sync.Mutex
	records []Record
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Set creates or replaces (last write wins) breakpoints at the given lines of file.
// Only the first record matching a location is replaced. If several stored paths end with file
// (for example /x/a.c and /y/a.c for a.c), the others keep their records.
func (r *Registry) Set(file string, lines []int, conditionText string) (Result, error) {
	if file == "" {
		return Result{}, protocol.NewProtocolError("breakpoint file must not be empty")
	}
	if len(lines) == 0 {
		return Result{}, protocol.NewProtocolError("at least one breakpoint line is required")
	}
	for _, line := range lines {
		if line < 1 {
			return Result{}, protocol.NewProtocolError("invalid breakpoint line %d, lines start at 1", line)
		}
	}

	file = NormalizePath(file)
	kind := Classify(conditionText)
	lines = uniqueLines(lines)

	r.mu.Lock()
	defer r.mu.Unlock()

	result := Result{File: file, Lines: lines, Kind: kind}
	for _, line := range lines {
		rec := newRecord(file, line, kind, conditionText)
		reason := protocol.BreakpointNew
		var previous *Record
		if i := r.indexOf(file, line); i >= 0 {
			existing := r.records[i]
			result.addStoredFile(existing.File)
			if existing.equal(rec) {
				result.Breakpoints = append(result.Breakpoints, rec.Info())
				continue
			}
			r.records = slices.Delete(r.records, i, i+1)
			previous = &existing
			reason = protocol.BreakpointChanged
		}
		r.records = append(r.records, rec)
		result.addStoredFile(rec.File)
		result.Breakpoints = append(result.Breakpoints, rec.Info())
		result.Changes = append(result.Changes, Change{Reason: reason, Record: rec, Previous: previous})
	}
	return result, nil
}

func newRecord(file string, line int, kind Kind, text string) Record {
	rec := Record{File: file, Line: line, Enabled: true}
	switch kind {
	case KindLogMessage:
		rec.LogMessage = &text
	case KindHitCondition:
		rec.HitCondition = &text
	case KindCondition:
		rec.Condition = &text
	}
	return rec
}

// Clear removes every breakpoint in file, or only those at the given lines.
func (r *Registry) Clear(file string, lines []int) Result {
	file = NormalizePath(file)

	r.mu.Lock()
	defer r.mu.Unlock()

	result := Result{File: file, Lines: uniqueLines(lines), Breakpoints: []protocol.Breakpoint{}}
	r.records = slices.DeleteFunc(r.records, func(rec Record) bool {
		if !PathsMatch(rec.File, file) {
			return false
		}
		if len(lines) > 0 && !slices.Contains(lines, rec.Line) {
			return false
		}
		result.addStoredFile(rec.File)
		result.Breakpoints = append(result.Breakpoints, rec.Info())
		result.Changes = append(result.Changes, Change{Reason: protocol.BreakpointRemoved, Record: rec})
		return true
	})
	return result
}

// List returns all records ordered by file and line.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedRecords(slices.Clone(r.records))
}

// Lookup finds the record at a location reported by the debugger.
func (r *Registry) Lookup(file string, line int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(file, line); i >= 0 {
		return r.records[i], true
	}
	return Record{}, false
}

// ForFile returns the records of a single file, ordered by line.
func (r *Registry) ForFile(file string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recs []Record
	for _, rec := range r.records {
		if PathsMatch(rec.File, file) {
			recs = append(recs, rec)
		}
	}
	return sortedRecords(recs)
}

// StoredIn returns the records stored under exactly this path, ordered by line.
// Debug hosts key breakpoints by path, so this is what a host should hold for file.
func (r *Registry) StoredIn(file string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recs []Record
	for _, rec := range r.records {
		if rec.File == file {
			recs = append(recs, rec)
		}
	}
	return sortedRecords(recs)
}

// Files returns the distinct files that have at least one breakpoint.
func (r *Registry) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var files []string
	for _, rec := range r.records {
		if !slices.Contains(files, rec.File) {
			files = append(files, rec.File)
		}
	}
	slices.Sort(files)
	return files
}

func (r *Registry) indexOf(file string, line int) int {
	return slices.IndexFunc(r.records, func(rec Record) bool {
		return rec.Line == line && PathsMatch(rec.File, file)
	})
}

func sortedRecords(recs []Record) []Record {
	slices.SortFunc(recs, func(a, b Record) int {
		return cmp.Or(cmp.Compare(a.File, b.File), cmp.Compare(a.Line, b.Line))
	})
	return recs
}

func uniqueLines(lines []int) []int {
	if len(lines) == 0 {
		return nil
	}
	return slices.Compact(slices.Sorted(slices.Values(lines)))
}
