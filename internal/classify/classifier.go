// Package classify scores interview question text against per-category
// keyword phrase lists.
package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"stagewhisper/internal/domain"
)

// Classifier assigns interview question categories to free text. Construct
// one with NewClassifier or NewClassifierFromFile; the zero value has no
// keyword table and classifies everything as unknown.
type Classifier struct {
	keywords map[domain.Category][]string
}

// NewClassifier returns a classifier backed by the built-in keyword table.
func NewClassifier() *Classifier {
	return &Classifier{keywords: defaultKeywords()}
}

// NewClassifierFromFile loads a keyword table from path. A blank path or a
// missing file falls back to the built-in table; a malformed file is an
// error.
func NewClassifierFromFile(path string) (*Classifier, error) {
	if strings.TrimSpace(path) == "" {
		return NewClassifier(), nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewClassifier(), nil
		}
		return nil, fmt.Errorf("failed to read keywords file %q: %w", path, err)
	}

	keywords, err := parseKeywords(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse keywords file %q: %w", path, err)
	}
	return &Classifier{keywords: keywords}, nil
}

// Classify returns the best-guess category for text. Each category scores
// one point per phrase found in the lower-cased input; the highest score
// wins, ties resolve in priority order, and zero matches yield
// CategoryUnknown.
func (c *Classifier) Classify(text string) domain.Category {
	return c.classify(text).Category
}

// ClassifyDetailed is the entry point reserved for higher-fidelity
// classification backends. It currently delegates to the synchronous keyword
// scoring and additionally reports the per-category tallies.
func (c *Classifier) ClassifyDetailed(ctx context.Context, text string) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}
	return c.classify(text), nil
}

func (c *Classifier) classify(text string) domain.Classification {
	lowered := strings.ToLower(text)

	scores := make(map[domain.Category]int, len(categoryPriority))
	best := domain.CategoryUnknown
	bestScore := 0
	for _, category := range categoryPriority {
		score := 0
		for _, phrase := range c.keywords[category] {
			if strings.Contains(lowered, phrase) {
				score++
			}
		}
		scores[category] = score
		if score > bestScore {
			best = category
			bestScore = score
		}
	}

	return domain.Classification{Category: best, Scores: scores}
}

// parseKeywords reads a keyword table of the form
//
//	# comment
//	coding => hash table, linked list
//	behavioral => tell me about a time
//
// Blank lines and lines starting with # are skipped. Repeating a category
// appends to its phrase list.
func parseKeywords(contents string) (map[domain.Category][]string, error) {
	keywords := make(map[domain.Category][]string)
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=>", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: expected `category => phrase, phrase`", index+1)
		}

		category, err := parseCategory(parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}

		for _, phrase := range strings.Split(parts[1], ",") {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase == "" {
				continue
			}
			keywords[category] = append(keywords[category], phrase)
		}
	}

	if len(keywords) == 0 {
		return nil, errors.New("no keyword rules found")
	}
	return keywords, nil
}

func parseCategory(name string) (domain.Category, error) {
	switch category := domain.Category(strings.ToLower(strings.TrimSpace(name))); category {
	case domain.CategoryBehavioral,
		domain.CategorySystemDesign,
		domain.CategoryObjectOrientedDesign,
		domain.CategoryCoding:
		return category, nil
	default:
		return "", fmt.Errorf("unknown category %q", name)
	}
}
