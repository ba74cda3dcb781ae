// Package classify maps message text to one of the fixed categories using
// the text-generation service.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/savichev/replypilot/internal/genai"
	"github.com/savichev/replypilot/pkg/models"
)

const promptTemplate = `Categorize the following email into one of the categories: Interested, Not Interested, More Information: %q`

// Classifier classifies inbound message bodies
type Classifier struct {
	completer genai.Completer
	logger    *slog.Logger
}

// New creates a new classifier
func New(completer genai.Completer, logger *slog.Logger) *Classifier {
	return &Classifier{
		completer: completer,
		logger:    logger.With("component", "classifier"),
	}
}

// Classify asks the model to categorize the body text. The model answers in
// free text, so the category is picked by substring search. "Not Interested"
// must be checked before "Interested": the latter is a substring of the
// former and would otherwise always win.
//
// A completer error yields CategoryError carrying the error; retrying is the
// scheduler's concern, not the classifier's.
func (c *Classifier) Classify(ctx context.Context, bodyText string) models.Classification {
	prompt := fmt.Sprintf(promptTemplate, bodyText)

	text, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		c.logger.Error("classification request failed", "error", err)
		return models.Classification{
			Category: models.CategoryError,
			BodyText: bodyText,
			Err:      err,
		}
	}

	return models.Classification{
		Category: matchCategory(text),
		BodyText: bodyText,
	}
}

// matchCategory interprets the model's free-text answer
func matchCategory(text string) models.Category {
	switch {
	case strings.Contains(text, string(models.CategoryNotInterested)):
		return models.CategoryNotInterested
	case strings.Contains(text, string(models.CategoryInterested)):
		return models.CategoryInterested
	case strings.Contains(text, string(models.CategoryMoreInformation)):
		return models.CategoryMoreInformation
	default:
		return models.CategoryUncategorized
	}
}
