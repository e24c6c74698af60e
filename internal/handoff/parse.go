package handoff

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/kenning/internal/errs"
)

var (
	fencePattern   = regexp.MustCompile("(?ms)^[ \t]*```[ \t]*(?:ya?ml)?[ \t]*\n(.*?)^[ \t]*```[ \t]*$")
	sectionPattern = regexp.MustCompile(`(?im)^#{2,3}\s+handoff\b.*$`)
	headingPattern = regexp.MustCompile(`(?m)^#{1,2}\s+\S`)
)

// Parse extracts the handoff from an agent's final output. It accepts, in
// order of preference: a fenced yaml block whose top level has an outcome
// key, a "## Handoff" section, or a document that is itself the YAML record.
// A record nested under a top-level "handoff" key is unwrapped.
func Parse(text string) (*Record, error) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if r, ok, err := decode(m[1]); ok || err != nil {
			return r, err
		}
	}

	if loc := sectionPattern.FindStringIndex(text); loc != nil {
		section := text[loc[1]:]
		if next := headingPattern.FindStringIndex(section); next != nil {
			section = section[:next[0]]
		}
		if r, ok, err := decode(section); ok || err != nil {
			return r, err
		}
	}

	if r, ok, err := decode(text); ok || err != nil {
		return r, err
	}
	return nil, errs.Invalid("", "outcome", "no handoff block found")
}

// decode reports ok=false when body is YAML without an outcome, so the
// caller can keep looking. A body that has an outcome but does not decode
// into a Record is an error.
func decode(body string) (*Record, bool, error) {
	var probe map[string]any
	if err := yaml.Unmarshal([]byte(body), &probe); err != nil {
		return nil, false, nil
	}
	if wrapped, ok := probe["handoff"].(map[string]any); ok {
		if _, has := wrapped["outcome"]; has {
			var doc struct {
				Handoff Record `yaml:"handoff"`
			}
			if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
				return nil, true, errs.Invalid("", "handoff", "malformed yaml: "+firstLine(err.Error()))
			}
			return &doc.Handoff, true, nil
		}
	}
	if _, ok := probe["outcome"]; !ok {
		return nil, false, nil
	}
	var r Record
	if err := yaml.Unmarshal([]byte(body), &r); err != nil {
		return nil, true, errs.Invalid("", "handoff", "malformed yaml: "+firstLine(err.Error()))
	}
	return &r, true, nil
}

// Marshal renders r as the YAML document Parse accepts.
func Marshal(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	return s
}
