package llm

import "testing"

func TestParseClassification(t *testing.T) {
	t.Parallel()
	got, err := parseClassification(`{"kind":"preference","importance":"low"}`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if got.Kind != "preference" || got.Importance != "low" {
		t.Fatalf("got=%+v", got)
	}
}

func TestParseClassificationCodeFence(t *testing.T) {
	t.Parallel()
	got, err := parseClassification("```json\n{\"kind\":\"task\",\"importance\":\"high\"}\n```")
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if got.Kind != "task" || got.Importance != "high" {
		t.Fatalf("got=%+v", got)
	}
}

func TestParseClassificationEmbeddedObject(t *testing.T) {
	t.Parallel()
	got, err := parseClassification(`Here you go: {"kind":"decision","importance":"medium"} hope that helps`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if got.Kind != "decision" {
		t.Fatalf("got=%+v", got)
	}
}

func TestParseClassificationNormalizesUnknowns(t *testing.T) {
	t.Parallel()
	got, err := parseClassification(`{"kind":"musing","importance":"extreme"}`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if got.Kind != "fact" || got.Importance != "medium" {
		t.Fatalf("got=%+v, want fallback labels", got)
	}
}

func TestParseClassificationRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := parseClassification("no json here"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := parseClassification(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestNewRequiresAProvider(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error with no api keys")
	}
	c, err := New(Options{OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.summaryModel == "" || c.classifyModel == "" {
		t.Fatalf("models not defaulted: %+v", c)
	}
}
