package out

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	"github.com/ggonzalez94/polygon-agent/internal/model"
)

// Render writes env in the configured output mode. Field selection applies to
// the data payload only; error envelopes are rendered in full.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := toGeneric(env.Data)
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}
	jsonMode := settings.OutputMode != "plain"

	if settings.ResultsOnly {
		if jsonMode {
			return writeJSON(w, data)
		}
		return writePlain(w, data)
	}

	if jsonMode {
		env.Data = data
		return writeJSON(w, env)
	}

	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error[%s] code=%d: %s\n", env.Error.Type, env.Error.Code, env.Error.Message); err != nil {
			return err
		}
	} else if err := writePlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "command=%s request_id=%s cache=%s\n", env.Meta.Command, env.Meta.RequestID, env.Meta.Cache.Status)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePlain prints one line per list item. An object with a "text" field,
// such as an action result, prints the text on its own line first.
func writePlain(w io.Writer, data any) error {
	switch t := data.(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range t {
			if _, err := fmt.Fprintln(w, line(item)); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if text, ok := t["text"].(string); ok && text != "" {
			if _, err := fmt.Fprintln(w, text); err != nil {
				return err
			}
			rest := make(map[string]any, len(t))
			for k, v := range t {
				if k != "text" {
					rest[k] = v
				}
			}
			t = rest
		}
		if len(t) == 0 {
			return nil
		}
		_, err := fmt.Fprintln(w, line(t))
		return err
	default:
		_, err := fmt.Fprintln(w, line(t))
		return err
	}
}

// project keeps the selected fields. A dotted field such as "tx.tx_hash"
// reaches into nested objects and is emitted under the full dotted name.
func project(data any, fields []string) any {
	switch t := data.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return data
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// toGeneric round-trips v through JSON so big.Int, typed structs and maps all
// project and print the same way. Numbers stay json.Number to keep wei
// amounts exact.
func toGeneric(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func line(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, scalar(m[k])))
	}
	return strings.Join(parts, " ")
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case map[string]any, []any:
		buf, _ := json.Marshal(t)
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}
