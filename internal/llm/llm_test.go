package llm

import (
	"encoding/json"
	"testing"
)

func TestEvaluationUnmarshal(t *testing.T) {
	raw := `{
		"similarity": 0.85,
		"feedback": "Good grasp of the core idea.",
		"key_concepts_matched": ["light energy", "chlorophyll"],
		"improvement_suggestions": "Mention the role of water.",
		"confidence_score": 0.9
	}`

	var eval Evaluation
	if err := json.Unmarshal([]byte(raw), &eval); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if eval.Similarity != 0.85 {
		t.Errorf("expected similarity 0.85, got %f", eval.Similarity)
	}
	if len(eval.MatchedConcepts) != 2 {
		t.Errorf("expected 2 matched concepts, got %d", len(eval.MatchedConcepts))
	}
	if eval.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", eval.Confidence)
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"negative", -0.2, 0},
		{"zero", 0, 0},
		{"in range", 0.7, 0.7},
		{"one", 1, 1},
		{"above one", 1.4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clamp01(tt.in); got != tt.want {
				t.Errorf("clamp01(%f) = %f, want %f", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c := New("http://localhost:11434/v1", "ollama", "llama3.2", 0)
	if c.timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, c.timeout)
	}
	if c.Model() != "llama3.2" {
		t.Errorf("expected model llama3.2, got %q", c.Model())
	}
}
