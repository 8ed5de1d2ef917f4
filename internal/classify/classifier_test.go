package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"stagewhisper/internal/domain"
)

func TestClassifyKnownCategories(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier()

	cases := map[string]struct {
		text string
		want domain.Category
	}{
		"behavioral": {
			text: "Tell me about a time you faced conflict with a teammate.",
			want: domain.CategoryBehavioral,
		},
		"system design": {
			text: "Design a system that can handle high throughput with caching and a load balancer.",
			want: domain.CategorySystemDesign,
		},
		"object oriented design": {
			text: "Which design pattern would you use here, and how does inheritance help?",
			want: domain.CategoryObjectOrientedDesign,
		},
		"coding": {
			text: "What is a hash table and what is its time complexity?",
			want: domain.CategoryCoding,
		},
		"case insensitive": {
			text: "WHAT IS A HASH TABLE?",
			want: domain.CategoryCoding,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := classifier.Classify(tc.text); got != tc.want {
				t.Fatalf("unexpected category for %q: got %q want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestClassifyUnknownWhenNothingMatches(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier()
	if got := classifier.Classify("the weather is lovely this morning"); got != domain.CategoryUnknown {
		t.Fatalf("expected unknown category, got %q", got)
	}
	if got := classifier.Classify(""); got != domain.CategoryUnknown {
		t.Fatalf("expected unknown category for empty text, got %q", got)
	}
}

func TestClassifyTieResolvesInPriorityOrder(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier()

	cases := map[string]struct {
		text string
		want domain.Category
	}{
		"behavioral beats system design": {
			text: "there was conflict about latency targets",
			want: domain.CategoryBehavioral,
		},
		"system design beats coding": {
			text: "discuss caching versus recursion",
			want: domain.CategorySystemDesign,
		},
		"object oriented beats coding": {
			text: "compare polymorphism with recursion",
			want: domain.CategoryObjectOrientedDesign,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := classifier.ClassifyDetailed(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("unexpected classification error: %v", err)
			}
			if got.Category != tc.want {
				t.Fatalf("unexpected tie-break for %q: got %q (scores %v) want %q", tc.text, got.Category, got.Scores, tc.want)
			}
		})
	}
}

func TestClassifyDetailedMatchesClassify(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier()
	text := "walk me through a binary search algorithm"

	detailed, err := classifier.ClassifyDetailed(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected classification error: %v", err)
	}
	if got := classifier.Classify(text); got != detailed.Category {
		t.Fatalf("detailed category %q disagrees with Classify %q", detailed.Category, got)
	}
	if detailed.Scores[domain.CategoryCoding] < 2 {
		t.Fatalf("expected at least two coding matches, got scores %v", detailed.Scores)
	}
}

func TestClassifyDetailedHonorsContext(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := classifier.ClassifyDetailed(ctx, "what is a hash table"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestNewClassifierFromFileOverridesTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keywords.rules")
	contents := `# custom keyword table
coding => quicksort, merge sort
behavioral => tell me about a time
coding => heap
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write keywords file: %v", err)
	}

	classifier, err := NewClassifierFromFile(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if got := classifier.Classify("implement quicksort and a heap"); got != domain.CategoryCoding {
		t.Fatalf("expected custom coding keywords to match, got %q", got)
	}
	// The built-in table is fully replaced, not merged.
	if got := classifier.Classify("what is a hash table"); got != domain.CategoryUnknown {
		t.Fatalf("expected built-in phrase to be gone, got %q", got)
	}
}

func TestNewClassifierFromFileMissingFileFallsBack(t *testing.T) {
	t.Parallel()

	classifier, err := NewClassifierFromFile(filepath.Join(t.TempDir(), "absent.rules"))
	if err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}
	if got := classifier.Classify("what is a hash table"); got != domain.CategoryCoding {
		t.Fatalf("expected built-in table, got %q", got)
	}

	classifier, err = NewClassifierFromFile("   ")
	if err != nil {
		t.Fatalf("unexpected error for blank path: %v", err)
	}
	if got := classifier.Classify("what is a hash table"); got != domain.CategoryCoding {
		t.Fatalf("expected built-in table for blank path, got %q", got)
	}
}

func TestNewClassifierFromFileRejectsMalformedLines(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing separator": "coding hash table",
		"unknown category":  "trivia => capital cities",
		"empty file":        "# nothing here\n\n",
	}

	for name, contents := range cases {
		contents := contents
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "keywords.rules")
			if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
				t.Fatalf("failed to write keywords file: %v", err)
			}
			if _, err := NewClassifierFromFile(path); err == nil {
				t.Fatalf("expected parse error for %q", contents)
			}
		})
	}
}

func TestCategoriesReturnsCopy(t *testing.T) {
	t.Parallel()

	first := Categories()
	first[0] = domain.CategoryUnknown
	if second := Categories(); second[0] == domain.CategoryUnknown {
		t.Fatalf("expected Categories to return an independent copy")
	}
}
