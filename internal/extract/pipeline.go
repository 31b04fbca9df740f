package extract

import (
	"context"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
)

// Fields holds extracted values as normalised strings keyed by field name.
// List values are comma separated.
type Fields map[string]string

// Field describes one parameter of a request.
type Field struct {
	Name        string
	Aliases     []string
	Description string
	Required    bool
	// Normalize converts a raw value into canonical form and reports whether
	// the result is valid.
	Normalize func(raw string) (string, bool)
	// Manual pulls the value out of free text.
	Manual func(text string) (string, bool)
}

func (f Field) normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if f.Normalize == nil {
		return raw, true
	}
	return f.Normalize(raw)
}

// Spec is the type-independent part of a Schema, shared with strategies.
type Spec struct {
	Name        string
	Description string
	Fields      []Field
}

// Schema binds a Spec to the typed parameter record it produces.
type Schema[T any] struct {
	Spec
	Build func(Fields) (T, error)
}

// Request is the input handed to every strategy.
type Request struct {
	Spec Spec
	Text string
	// Recent holds earlier conversation turns, oldest first.
	Recent []string
}

type Kind int

const (
	KindModel Kind = iota
	KindManual
)

// Strategy produces candidate fields. A nil result with a nil error means the
// strategy had nothing to offer. Validation errors abort the pipeline; any
// other error is treated as no result.
type Strategy interface {
	Name() string
	Kind() Kind
	Extract(ctx context.Context, req Request) (Fields, error)
}

// Result carries the typed parameters and which strategies contributed.
type Result[T any] struct {
	Params  T
	Sources []string
}

// Run walks strategies in order. Model strategies after the first one that
// returns a parseable result are skipped. Values from earlier strategies win
// unless they are missing or invalid.
func Run[T any](ctx context.Context, schema Schema[T], req Request, strategies ...Strategy) (Result[T], error) {
	log := logger.Named("extract")
	req.Spec = schema.Spec
	merged := Fields{}
	var sources []string
	modelDone := false

	for _, s := range strategies {
		if s.Kind() == KindModel && modelDone {
			continue
		}
		fields, err := s.Extract(ctx, req)
		if err != nil {
			if clierr.IsValidation(err) {
				return Result[T]{}, err
			}
			log.Debug("extraction strategy failed", "schema", schema.Name, "strategy", s.Name(), "error", err)
			continue
		}
		if fields == nil {
			log.Debug("extraction strategy returned nothing", "schema", schema.Name, "strategy", s.Name())
			continue
		}
		if s.Kind() == KindModel {
			modelDone = true
		}
		if mergeInto(schema.Spec, merged, fields) {
			sources = append(sources, s.Name())
		}
		if complete(schema.Spec, merged) {
			break
		}
	}

	params, err := schema.Build(merged)
	if err != nil {
		return Result[T]{}, err
	}
	return Result[T]{Params: params, Sources: sources}, nil
}

// mergeInto copies fields into dst, keeping values already valid in dst.
// It reports whether anything was taken from src.
func mergeInto(spec Spec, dst, src Fields) bool {
	used := false
	for _, f := range spec.Fields {
		raw, ok := lookup(src, f)
		if !ok {
			continue
		}
		if _, valid := f.normalize(dst[f.Name]); valid {
			continue
		}
		norm, valid := f.normalize(raw)
		if !valid {
			if _, exists := dst[f.Name]; !exists {
				dst[f.Name] = raw
			}
			continue
		}
		dst[f.Name] = norm
		used = true
	}
	return used
}

func lookup(src Fields, f Field) (string, bool) {
	if v, ok := src[f.Name]; ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	for _, alias := range f.Aliases {
		if v, ok := src[alias]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	lower := make(map[string]string, len(src))
	for k, v := range src {
		lower[strings.ToLower(k)] = v
	}
	for _, name := range append([]string{f.Name}, f.Aliases...) {
		if v, ok := lower[strings.ToLower(name)]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

func complete(spec Spec, fields Fields) bool {
	for _, f := range spec.Fields {
		if _, ok := f.normalize(fields[f.Name]); !ok && f.Required {
			return false
		}
	}
	return true
}

// checkRequired reports every missing or invalid required field and every
// invalid optional one in a single validation error.
func checkRequired(spec Spec, fields Fields) error {
	var missing, invalid []string
	for _, f := range spec.Fields {
		raw := strings.TrimSpace(fields[f.Name])
		if raw == "" {
			if f.Required {
				missing = append(missing, f.Name)
			}
			continue
		}
		if _, ok := f.normalize(raw); !ok {
			invalid = append(invalid, f.Name+"="+raw)
		}
	}
	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	sort.Strings(missing)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(invalid, ", "))
	}
	return clierr.Validation("could not extract %s parameters: %s", spec.Name, strings.Join(parts, "; "))
}

// normalized returns the canonical value of a field that passed checkRequired.
func normalized(spec Spec, fields Fields, name string) string {
	for _, f := range spec.Fields {
		if f.Name == name {
			v, _ := f.normalize(fields[name])
			return v
		}
	}
	return ""
}
