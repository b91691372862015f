package parser

import (
	"errors"
	"testing"

	"github.com/examly/examly/internal/model"
)

func TestParseMCQ(t *testing.T) {
	input := `1. What is 2+2?
A. 3
B. 4
C. 5
D. 6
(Correct: B)
`
	questions, err := ParseMCQ(input, 2)
	if err != nil {
		t.Fatalf("ParseMCQ: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	q := questions[0]
	if q.Kind != model.KindMCQ {
		t.Errorf("expected kind MCQ, got %q", q.Kind)
	}
	if q.Text != "What is 2+2?" {
		t.Errorf("unexpected text %q", q.Text)
	}
	want := []string{"3", "4", "5", "6"}
	if len(q.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(q.Options))
	}
	for i, opt := range want {
		if q.Options[i] != opt {
			t.Errorf("option %d: expected %q, got %q", i, opt, q.Options[i])
		}
	}
	if q.ReferenceAnswer != "4" {
		t.Errorf("expected answer %q, got %q", "4", q.ReferenceAnswer)
	}
	if q.MaxMarks != 2 {
		t.Errorf("expected marks 2, got %d", q.MaxMarks)
	}
	if q.Number != 1 {
		t.Errorf("expected question number 1, got %d", q.Number)
	}
}

func TestParseMCQVariants(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantCount   int
		wantAnswers []string
	}{
		{
			name: "paren options and lowercase correct",
			input: `1. Pick one
A) first
B) second
C) third
D) fourth
(correct: c)`,
			wantCount:   1,
			wantAnswers: []string{"third"},
		},
		{
			name: "no correct marker defaults to first option",
			input: `1. Pick one
A. first
B. second
C. third
D. fourth`,
			wantCount:   1,
			wantAnswers: []string{"first"},
		},
		{
			name: "extra options beyond fourth are dropped",
			input: `1. Pick one
A. first
B. second
C. third
D. fourth
D. fifth
(Correct: A)`,
			wantCount:   1,
			wantAnswers: []string{"first"},
		},
		{
			name: "question with too few options is discarded",
			input: `1. Incomplete
A. only
B. two
2. Complete
A. w
B. x
C. y
D. z
(Correct: D)`,
			wantCount:   1,
			wantAnswers: []string{"z"},
		},
		{
			name: "two complete questions",
			input: `1. First
A. a1
B. b1
C. c1
D. d1
(Correct: B)

2. Second
A. a2
B. b2
C. c2
D. d2
(Correct: D)`,
			wantCount:   2,
			wantAnswers: []string{"b1", "d2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			questions, err := ParseMCQ(tt.input, 1)
			if err != nil {
				t.Fatalf("ParseMCQ: %v", err)
			}
			if len(questions) != tt.wantCount {
				t.Fatalf("expected %d questions, got %d", tt.wantCount, len(questions))
			}
			for i, want := range tt.wantAnswers {
				if questions[i].ReferenceAnswer != want {
					t.Errorf("question %d: expected answer %q, got %q", i+1, want, questions[i].ReferenceAnswer)
				}
				if questions[i].Number != i+1 {
					t.Errorf("question %d: expected number %d, got %d", i+1, i+1, questions[i].Number)
				}
			}
		})
	}
}

func TestParseMCQErrors(t *testing.T) {
	t.Run("no valid questions", func(t *testing.T) {
		_, err := ParseMCQ("just some prose\nwith no structure", 1)
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("non-positive marks", func(t *testing.T) {
		_, err := ParseMCQ("1. Q\nA. a\nB. b\nC. c\nD. d", 0)
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestParseShort(t *testing.T) {
	input := `1. Explain photosynthesis.

2. What causes seasons?
not a numbered line
3. Define osmosis.`

	questions, err := ParseShort(input, 5)
	if err != nil {
		t.Fatalf("ParseShort: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	for i, q := range questions {
		if q.Kind != model.KindShort {
			t.Errorf("question %d: expected kind Short, got %q", i+1, q.Kind)
		}
		if len(q.Options) != 0 {
			t.Errorf("question %d: expected no options, got %d", i+1, len(q.Options))
		}
		if q.ReferenceAnswer != ShortReferenceAnswer {
			t.Errorf("question %d: unexpected reference answer %q", i+1, q.ReferenceAnswer)
		}
		if q.MaxMarks != 5 {
			t.Errorf("question %d: expected marks 5, got %d", i+1, q.MaxMarks)
		}
		if q.Number != i+1 {
			t.Errorf("question %d: expected number %d, got %d", i+1, i+1, q.Number)
		}
	}
	if questions[1].Text != "What causes seasons?" {
		t.Errorf("unexpected second question text %q", questions[1].Text)
	}
}

func TestParseShortErrors(t *testing.T) {
	_, err := ParseShort("no numbering here\n\nstill none", 5)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
