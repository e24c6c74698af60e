package state

import (
	"slices"

	"gopkg.in/yaml.v3"
)

// Log is an append-only list. Entries can be added and read but never
// edited or removed, which is how cold memory keeps its audit history.
type Log[T any] struct {
	entries []T
}

// Append adds entries to the end of the log.
func (l *Log[T]) Append(v ...T) {
	l.entries = append(l.entries, v...)
}

// All returns a copy of every entry, oldest first.
func (l Log[T]) All() []T {
	return slices.Clone(l.entries)
}

// Len returns the number of entries.
func (l Log[T]) Len() int {
	return len(l.entries)
}

// Last returns the newest entry.
func (l Log[T]) Last() (T, bool) {
	if len(l.entries) == 0 {
		var zero T
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// ContainsFunc reports whether any entry satisfies f.
func (l Log[T]) ContainsFunc(f func(T) bool) bool {
	return slices.ContainsFunc(l.entries, f)
}

func (l Log[T]) clone() Log[T] {
	return Log[T]{entries: slices.Clone(l.entries)}
}

// MarshalYAML renders the log as a plain sequence.
func (l Log[T]) MarshalYAML() (any, error) {
	if l.entries == nil {
		return []T{}, nil
	}
	return l.entries, nil
}

// UnmarshalYAML reads a plain sequence.
func (l *Log[T]) UnmarshalYAML(value *yaml.Node) error {
	var entries []T
	if err := value.Decode(&entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}
