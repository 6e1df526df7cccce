package embedding

import "testing"

func TestNewGenAIEngineRequiresAPIKey(t *testing.T) {
	if _, err := NewGenAIEngine("", "gemini-embedding-001", "", 768); err == nil {
		t.Fatal("engine built without an API key")
	}
}

func TestNewGenAIEngineDefaults(t *testing.T) {
	e, err := NewGenAIEngine("test-key", "", "", 768)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	if e.model != "gemini-embedding-001" {
		t.Errorf("default model %q, want gemini-embedding-001", e.model)
	}
	if e.taskType != "SEMANTIC_SIMILARITY" {
		t.Errorf("default task type %q, want SEMANTIC_SIMILARITY", e.taskType)
	}
	if e.Dimensions() != 768 {
		t.Errorf("dimensions %d, want 768", e.Dimensions())
	}
}

func TestNormalizeTaskType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "SEMANTIC_SIMILARITY"},
		{"SEMANTIC_SIMILARITY", "SEMANTIC_SIMILARITY"},
		{"RETRIEVAL_DOCUMENT", "RETRIEVAL_DOCUMENT"},
		{"RETRIEVAL_QUERY", "RETRIEVAL_QUERY"},
		{"QUESTION_ANSWERING", "QUESTION_ANSWERING"},
		{"CLUSTERING", "SEMANTIC_SIMILARITY"},
	}
	for _, tc := range cases {
		if got := normalizeTaskType(tc.in); got != tc.want {
			t.Errorf("normalizeTaskType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
