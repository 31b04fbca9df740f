package llm

import "context"

// ModelType selects a model tier and response mode.
type ModelType string

const (
	TextSmall   ModelType = "TEXT_SMALL"
	TextLarge   ModelType = "TEXT_LARGE"
	ObjectSmall ModelType = "OBJECT_SMALL"
	ObjectLarge ModelType = "OBJECT_LARGE"
)

// Structured reports whether the tier asks for a JSON object response.
func (m ModelType) Structured() bool {
	return m == ObjectSmall || m == ObjectLarge
}

func (m ModelType) Large() bool {
	return m == TextLarge || m == ObjectLarge
}

// Model is the host runtime's useModel contract. Responses are untrusted text;
// structured tiers return a JSON document as text.
type Model interface {
	UseModel(ctx context.Context, model ModelType, prompt string) (string, error)
}

// Func adapts a function to Model.
type Func func(ctx context.Context, model ModelType, prompt string) (string, error)

func (f Func) UseModel(ctx context.Context, model ModelType, prompt string) (string, error) {
	return f(ctx, model, prompt)
}
