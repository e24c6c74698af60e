package state

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLog_AllReturnsCopy(t *testing.T) {
	var l Log[string]
	l.Append("a", "b")

	got := l.All()
	got[0] = "mutated"
	if l.All()[0] != "a" {
		t.Fatal("All() exposed the backing slice")
	}
	if last, ok := l.Last(); !ok || last != "b" {
		t.Errorf("Last = %q, %v", last, ok)
	}
}

func TestLog_YAMLRoundTrip(t *testing.T) {
	type doc struct {
		Items Log[Decision] `yaml:"items"`
	}
	var in doc
	in.Items.Append(Decision{Summary: "one"}, Decision{Summary: "two"})

	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out doc
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Items.Len() != 2 || out.Items.All()[1].Summary != "two" {
		t.Errorf("round trip = %+v", out.Items.All())
	}
}

func TestLog_EmptyMarshalsAsSequence(t *testing.T) {
	var m Memory
	data, err := yaml.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back Memory
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal empty memory: %v\n%s", err, data)
	}
}
