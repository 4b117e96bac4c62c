package usage

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dealcoach/gateway/pkg/slogx"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Tier identifies which extraction strategy produced a usage value. It is
// reported alongside the value so that a genuine zero-usage response can be
// told apart from a source that carried no usage data at all.
type Tier int

const (
	// TierNone means no strategy recognized any usage data in the source.
	TierNone Tier = iota
	// TierDump means the usage was found in a full serialized dump of the source.
	TierDump
	// TierField means the usage was read from a directly exposed Usage field or method.
	TierField
	// TierMetadata means the usage was read from a generic metadata mapping.
	TierMetadata
)

func (t Tier) String() string {
	switch t {
	case TierDump:
		return "dump"
	case TierField:
		return "field"
	case TierMetadata:
		return "metadata"
	default:
		return "none"
	}
}

// Extract probes a response-like object of unknown shape for token usage.
// It tries, in order: a full structured dump of the source, a directly
// exposed usage field, and a generic metadata mapping. The first strategy
// that finds any recognized token figure wins, even when a later strategy
// would have produced more complete data. Extract never fails: a source
// from which nothing can be read yields a zero value and TierNone.
func Extract(source any) (Usage, Tier) {
	if source == nil {
		return Usage{}, TierNone
	}
	if u, ok := fromDump(source); ok {
		slog.Debug("token usage extracted", slog.String("tier", TierDump.String()), slogx.Stringer("usage", u))
		return u, TierDump
	}
	if u, ok := fromField(source); ok {
		slog.Debug("token usage extracted", slog.String("tier", TierField.String()), slogx.Stringer("usage", u))
		return u, TierField
	}
	if u, ok := fromMetadata(source); ok {
		slog.Debug("token usage extracted", slog.String("tier", TierMetadata.String()), slogx.Stringer("usage", u))
		return u, TierMetadata
	}
	slog.Debug("no token usage data in source", slog.String("source_type", fmt.Sprintf("%T", source)))
	return Usage{}, TierNone
}

// fromDump serializes the whole source and looks for a usage object at any
// depth. This runs first because it catches usage nested inside choices or
// run substructures that direct field access would miss.
func fromDump(source any) (u Usage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("usage dump probe panicked", slog.Any("panic", r))
			u, ok = Usage{}, false
		}
	}()

	b, err := json.Marshal(source)
	if err != nil {
		slog.Debug("usage dump serialization failed", slogx.Error(err))
		return Usage{}, false
	}
	if !gjson.ValidBytes(b) {
		return Usage{}, false
	}
	return findUsage(gjson.ParseBytes(b))
}

// findUsage walks a parsed document depth first, returning the first "usage"
// object that carries at least one recognized token field.
func findUsage(node gjson.Result) (Usage, bool) {
	if node.IsObject() {
		if un := node.Get("usage"); un.Exists() && un.IsObject() {
			if u, ok := usageFromResult(un); ok {
				return u, true
			}
		}
	}
	if !node.IsObject() && !node.IsArray() {
		return Usage{}, false
	}

	var (
		match Usage
		found bool
	)
	node.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() || value.IsArray() {
			if u, ok := findUsage(value); ok {
				match, found = u, true
				return false
			}
		}
		return true
	})
	return match, found
}

// usageFromResult reads the aliased token fields out of a usage object.
// prompt_tokens is preferred over input_tokens and completion_tokens over
// output_tokens; the aliases are never summed. A missing component defaults
// to zero even when only a total is present.
func usageFromResult(node gjson.Result) (Usage, bool) {
	var (
		u     Usage
		found bool
	)
	if v, ok := firstField(node, "prompt_tokens", "input_tokens"); ok {
		u.InputTokens = v
		found = true
	}
	if v, ok := firstField(node, "completion_tokens", "output_tokens"); ok {
		u.OutputTokens = v
		found = true
	}
	if v := node.Get("total_tokens"); v.Exists() {
		u.TotalTokens = v.Int()
		found = true
	}
	return u, found
}

func firstField(node gjson.Result, keys ...string) (int64, bool) {
	for _, key := range keys {
		if v := node.Get(key); v.Exists() {
			return v.Int(), true
		}
	}
	return 0, false
}

// fromField reads a usage value the source exposes directly, either as an
// exported Usage field or map entry, or through a niladic Usage method.
func fromField(source any) (u Usage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("usage field probe panicked", slog.Any("panic", r))
			u, ok = Usage{}, false
		}
	}()

	carrier, ok := probe(reflect.ValueOf(source), "Usage", "usage")
	if !ok {
		return Usage{}, false
	}
	return usageFromValue(carrier)
}

// fromMetadata reads a usage entry out of a generic metadata mapping exposed
// by the source, with the same field handling as fromField.
func fromMetadata(source any) (u Usage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("usage metadata probe panicked", slog.Any("panic", r))
			u, ok = Usage{}, false
		}
	}()

	meta, ok := probe(reflect.ValueOf(source), "Metadata", "metadata")
	if !ok {
		return Usage{}, false
	}
	meta = indirect(meta)
	if meta.Kind() != reflect.Map {
		return Usage{}, false
	}
	entry, ok := mapIndex(meta, "usage", "Usage")
	if !ok {
		return Usage{}, false
	}
	return usageFromValue(entry)
}

// probe resolves a named member of an arbitrary value: an exported struct
// field, a niladic single-return method, or a map entry under either key.
func probe(v reflect.Value, fieldName, mapKey string) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Value{}, false
	}

	if m := v.MethodByName(fieldName); m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() == 1 {
		return m.Call(nil)[0], true
	}

	v = indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		if f := v.FieldByName(fieldName); f.IsValid() && f.CanInterface() {
			return f, true
		}
	case reflect.Map:
		return mapIndex(v, mapKey, fieldName)
	}
	return reflect.Value{}, false
}

func mapIndex(m reflect.Value, keys ...string) (reflect.Value, bool) {
	if m.Type().Key().Kind() != reflect.String {
		return reflect.Value{}, false
	}
	for _, key := range keys {
		if e := m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key())); e.IsValid() {
			return e, true
		}
	}
	return reflect.Value{}, false
}

// usageFromValue reads the aliased token fields from a struct or
// map-of-string shaped usage carrier.
func usageFromValue(v reflect.Value) (Usage, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return Usage{}, false
	}

	var (
		u     Usage
		found bool
	)
	switch v.Kind() {
	case reflect.Struct:
		if n, ok := firstStructField(v, "PromptTokens", "InputTokens"); ok {
			u.InputTokens = n
			found = true
		}
		if n, ok := firstStructField(v, "CompletionTokens", "OutputTokens"); ok {
			u.OutputTokens = n
			found = true
		}
		if n, ok := firstStructField(v, "TotalTokens"); ok {
			u.TotalTokens = n
			found = true
		}
	case reflect.Map:
		if n, ok := firstMapEntry(v, "prompt_tokens", "input_tokens"); ok {
			u.InputTokens = n
			found = true
		}
		if n, ok := firstMapEntry(v, "completion_tokens", "output_tokens"); ok {
			u.OutputTokens = n
			found = true
		}
		if n, ok := firstMapEntry(v, "total_tokens"); ok {
			u.TotalTokens = n
			found = true
		}
	default:
		return Usage{}, false
	}
	return u, found
}

func firstStructField(v reflect.Value, names ...string) (int64, bool) {
	for _, name := range names {
		if f := v.FieldByName(name); f.IsValid() && f.CanInterface() {
			if n, ok := asInt64(f); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func firstMapEntry(v reflect.Value, keys ...string) (int64, bool) {
	if v.Type().Key().Kind() != reflect.String {
		return 0, false
	}
	for _, key := range keys {
		if e := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key())); e.IsValid() {
			if n, ok := asInt64(e); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func asInt64(v reflect.Value) (int64, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), true //nolint:gosec
	case reflect.Float32, reflect.Float64:
		return int64(v.Float()), true
	default:
		return 0, false
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
