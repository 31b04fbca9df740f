package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// StructuredModel asks the model for a JSON object and parses it strictly.
type StructuredModel struct {
	Model llm.Model
	Type  llm.ModelType
}

func (s StructuredModel) Name() string { return "model_structured" }

func (s StructuredModel) Kind() Kind { return KindModel }

func (s StructuredModel) Extract(ctx context.Context, req Request) (Fields, error) {
	if s.Model == nil {
		return nil, nil
	}
	typ := s.Type
	if typ == "" {
		typ = llm.ObjectSmall
	}
	out, err := s.Model.UseModel(ctx, typ, BuildPrompt(req, false))
	if err != nil {
		return nil, err
	}
	return parseObject(out)
}

// TextModel asks for free text and looks for a fenced JSON block, then for a
// JSON document spanning the whole response.
type TextModel struct {
	Model llm.Model
	Type  llm.ModelType
}

func (s TextModel) Name() string { return "model_text" }

func (s TextModel) Kind() Kind { return KindModel }

func (s TextModel) Extract(ctx context.Context, req Request) (Fields, error) {
	if s.Model == nil {
		return nil, nil
	}
	typ := s.Type
	if typ == "" {
		typ = llm.TextSmall
	}
	out, err := s.Model.UseModel(ctx, typ, BuildPrompt(req, true))
	if err != nil {
		return nil, err
	}
	return ParseModelText(out)
}

// ParseModelText extracts fields from a free-text model response.
func ParseModelText(out string) (Fields, error) {
	if m := fencedJSONPattern.FindStringSubmatch(out); len(m) == 2 {
		fields, err := parseObject(m[1])
		if err == nil || clierr.IsValidation(err) {
			return fields, err
		}
	}
	fields, err := parseObject(out)
	if err != nil {
		if clierr.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("model response contains no json object: %w", err)
	}
	return fields, nil
}

// parseObject decodes a JSON object into Fields. Non-object documents yield
// (nil, error); an "error" member aborts with a validation error.
func parseObject(raw string) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode model json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode model json: trailing data")
	}
	if obj == nil {
		return nil, fmt.Errorf("decode model json: not an object")
	}
	if msg := errorMember(obj); msg != "" {
		return nil, clierr.Validation("%s", msg)
	}
	fields := Fields{}
	for k, v := range obj {
		if s, ok := flatten(v); ok {
			fields[k] = s
		}
	}
	return fields, nil
}

func errorMember(obj map[string]any) string {
	for k, v := range obj {
		if !strings.EqualFold(k, "error") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			if b, isBool := v.(bool); isBool && b {
				return "the request could not be understood"
			}
			return ""
		}
		s = strings.TrimSpace(s)
		switch strings.ToLower(s) {
		case "", "null", "none", "false":
			return ""
		}
		return s
	}
	return ""
}

func flatten(v any) (string, bool) {
	switch value := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(value), strings.TrimSpace(value) != ""
	case json.Number:
		return value.String(), true
	case bool:
		return strconv.FormatBool(value), true
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := flatten(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), len(parts) > 0
	default:
		return "", false
	}
}
