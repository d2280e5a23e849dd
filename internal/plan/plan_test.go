package plan

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStepJSONRoundTrip(t *testing.T) {
	steps := []Step{
		{ID: "a", Description: "create landing page", ToolName: "create_page", ToolInput: map[string]string{"title": "Home", "publish": "false"}},
		{ID: "b", Description: "configure translations", ToolName: "setup_translation", ToolInput: map[string]string{"locale": "de"}, DependsOn: []string{"a"}},
		{ID: "c", Description: "summarise"},
	}

	for _, step := range steps {
		raw, err := json.Marshal(step)
		if err != nil {
			t.Fatalf("marshal %s: %v", step.ID, err)
		}
		var decoded Step
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", step.ID, err)
		}
		if !reflect.DeepEqual(step, decoded) {
			t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", step, decoded)
		}
	}
}

func TestStepJSONFieldNames(t *testing.T) {
	raw, err := json.Marshal(Step{ID: "a", Description: "d", ToolName: "t", ToolInput: map[string]string{"k": "v"}, DependsOn: []string{"x"}, Validation: "check"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, name := range []string{"id", "description", "toolName", "toolInput", "dependsOn", "validation"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("missing field %q in %s", name, raw)
		}
	}
}

func TestParseStepsAcceptsStringAndArray(t *testing.T) {
	encoded, _ := json.Marshal(`[{"id":"a","description":"one"},{"id":"b","description":"two","dependsOn":["a"]}]`)
	steps, err := ParseSteps(encoded)
	if err != nil {
		t.Fatalf("parse string form: %v", err)
	}
	if len(steps) != 2 || steps[1].DependsOn[0] != "a" {
		t.Fatalf("unexpected steps: %+v", steps)
	}

	steps, err = ParseSteps(json.RawMessage(`[{"id":"x","description":"direct"}]`))
	if err != nil {
		t.Fatalf("parse array form: %v", err)
	}
	if len(steps) != 1 || steps[0].ID != "x" {
		t.Fatalf("unexpected steps: %+v", steps)
	}

	if _, err := ParseSteps(json.RawMessage(`"not json"`)); err == nil {
		t.Fatalf("expected error for garbage steps")
	}
	if _, err := ParseSteps(nil); err == nil {
		t.Fatalf("expected error for missing steps")
	}
}

func TestValidateRejectsEmptyAndDuplicateIDs(t *testing.T) {
	if err := (&Plan{}).Validate(); err == nil {
		t.Fatalf("expected error for empty plan")
	}
	if err := (&Plan{Steps: []Step{{ID: " "}}}).Validate(); err == nil {
		t.Fatalf("expected error for blank id")
	}
	if err := (&Plan{Steps: []Step{{ID: "a"}, {ID: "a"}}}).Validate(); err == nil {
		t.Fatalf("expected error for duplicate id")
	}
	if err := (&Plan{Steps: []Step{{ID: "a"}, {ID: "b"}}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("  héllo world ", 5); got != "héllo…" {
		t.Fatalf("unexpected excerpt: %q", got)
	}
	if got := Excerpt("short", 10); got != "short" {
		t.Fatalf("unexpected excerpt: %q", got)
	}
}
