package runtime

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sequorlabs/sequor/pkg/domain"
)

// InputBag is an ordered set of candidate values for parameter binding.
// Insertion order is preserved so binding is deterministic: the same bag
// always yields the same mapping, which Go's randomized map iteration would
// not give us.
type InputBag struct {
	keys   []string
	values map[string]any
}

// NewInputBag creates an empty bag.
func NewInputBag() *InputBag {
	return &InputBag{values: make(map[string]any)}
}

// Put adds or replaces a value. New keys append to the iteration order.
func (b *InputBag) Put(name string, value any) {
	if _, ok := b.values[name]; !ok {
		b.keys = append(b.keys, name)
	}
	b.values[name] = value
}

// Get returns the value for a key.
func (b *InputBag) Get(name string) (any, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Keys returns key names in insertion order.
func (b *InputBag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Len returns the number of entries.
func (b *InputBag) Len() int {
	return len(b.keys)
}

// ValueAt returns the i-th value in insertion order.
func (b *InputBag) ValueAt(i int) (any, bool) {
	if i < 0 || i >= len(b.keys) {
		return nil, false
	}
	return b.values[b.keys[i]], true
}

// Map returns the bag contents as a plain map.
func (b *InputBag) Map() map[string]any {
	out := make(map[string]any, len(b.keys))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// generatedParamPattern matches parameter names anonymized during catalog
// normalization (v1, v2, ...). These carry no semantic content and are
// bound by schema position instead of name.
var generatedParamPattern = regexp.MustCompile(`^v\d+$`)

// semanticAliases groups parameter names that refer to the same concept.
// Producers and consumers are composed independently and share no naming
// convention, so "email_address" from one operation must bind to "mail" in
// the next.
var semanticAliases = map[string][]string{
	"email":     {"email", "email_address", "mail", "user_email", "e_mail"},
	"phone":     {"phone", "phone_number", "telephone", "mobile", "tel", "number"},
	"name":      {"name", "username", "user_name", "full_name", "display_name"},
	"password":  {"password", "passwd", "pwd", "secret", "pass"},
	"url":       {"url", "uri", "link", "href", "address"},
	"text":      {"text", "content", "message", "body", "string", "s", "str", "value", "input", "data"},
	"number":    {"number", "num", "n", "value", "amount", "count", "quantity", "size"},
	"integer":   {"integer", "int", "i", "n", "count", "index", "id"},
	"float":     {"float", "f", "decimal", "amount", "price", "rate"},
	"boolean":   {"boolean", "bool", "flag", "is_active", "enabled", "active"},
	"list":      {"list", "items", "array", "elements", "values", "data", "collection"},
	"dict":      {"dict", "data", "obj", "object", "payload", "record", "item"},
	"date":      {"date", "dt", "day", "timestamp"},
	"time":      {"time", "t", "timestamp", "ts"},
	"file":      {"file", "path", "filepath", "filename"},
	"user":      {"user", "username", "user_id", "uid"},
	"origin":    {"origin", "source", "from", "url", "host"},
	"extension": {"extension", "ext", "suffix", "type"},
	"format":    {"format", "fmt", "pattern", "template"},
	"count":     {"count", "n", "num", "total", "limit", "size", "max"},
	"page":      {"page", "page_number", "offset", "skip"},
	"limit":     {"limit", "size", "per_page", "page_size", "max"},
	"duration":  {"duration", "seconds", "ms", "time", "timeout", "interval"},
	"discount":  {"discount", "rate", "percent", "percentage", "amount"},
	"price":     {"price", "amount", "cost", "value", "total"},
	"quantity":  {"quantity", "qty", "count", "amount", "num"},
}

// SemanticInputMapper resolves declared parameter names against an input
// bag using name, substring, and semantic-alias matching.
type SemanticInputMapper struct {
	// reverse maps every alias (lowercased) to its concept name.
	reverse map[string]string
}

// NewSemanticInputMapper builds a mapper with the built-in alias table.
// Aliases shared by several concepts ("amount", "count") resolve to the
// first concept in sorted order so binding is stable across instances.
func NewSemanticInputMapper() *SemanticInputMapper {
	concepts := make([]string, 0, len(semanticAliases))
	for concept := range semanticAliases {
		concepts = append(concepts, concept)
	}
	sort.Strings(concepts)

	reverse := make(map[string]string)
	for _, concept := range concepts {
		for _, alias := range semanticAliases[concept] {
			lower := strings.ToLower(alias)
			if _, taken := reverse[lower]; !taken {
				reverse[lower] = concept
			}
		}
	}
	return &SemanticInputMapper{reverse: reverse}
}

// FindBestMatch returns the bag key that best matches the parameter name,
// or "" when nothing matches. Precedence: exact name, case-insensitive
// name, substring either way, shared semantic concept.
func (m *SemanticInputMapper) FindBestMatch(paramName string, bag *InputBag) string {
	paramLower := strings.ToLower(paramName)

	if _, ok := bag.Get(paramName); ok {
		return paramName
	}
	if _, ok := bag.Get(paramLower); ok {
		return paramLower
	}

	for _, key := range bag.Keys() {
		keyLower := strings.ToLower(key)
		if strings.Contains(keyLower, paramLower) || strings.Contains(paramLower, keyLower) {
			return key
		}
	}

	concept, known := m.reverse[paramLower]
	if !known {
		return ""
	}
	for _, alias := range semanticAliases[concept] {
		if _, ok := bag.Get(alias); ok {
			return alias
		}
		lower := strings.ToLower(alias)
		if _, ok := bag.Get(lower); ok {
			return lower
		}
	}
	for _, key := range bag.Keys() {
		if m.reverse[strings.ToLower(key)] == concept {
			return key
		}
	}
	return ""
}

// Adapter reconciles the values available at a node with the operation's
// declared parameter schema. Schemas come from the catalog, produced once
// at build time; nothing is introspected at call time.
type Adapter struct {
	mapper *SemanticInputMapper
}

// NewAdapter creates an adapter with the default mapper.
func NewAdapter() *Adapter {
	return &Adapter{mapper: NewSemanticInputMapper()}
}

// AdaptInputs binds the bag's values to the operation's parameters.
//
// Per parameter, in order: name/alias match via the mapper; for anonymized
// names (v1, v2, ...) positional binding by schema index; declared default;
// otherwise the parameter is unresolved. A required parameter left
// unresolved fails with domain.ErrMissingParameter: the adapter never
// guesses a value for a parameter the operation insists on.
func (a *Adapter) AdaptInputs(op domain.OperationDescriptor, bag *InputBag) (map[string]any, error) {
	mapped := make(map[string]any, len(op.Parameters))
	var missing []string

	for i, param := range op.Parameters {
		if generatedParamPattern.MatchString(param.Name) {
			if value, ok := a.bindPositional(param, i, bag); ok {
				mapped[param.Name] = value
				continue
			}
		}

		if key := a.mapper.FindBestMatch(param.Name, bag); key != "" {
			value, _ := bag.Get(key)
			mapped[param.Name] = value
			continue
		}

		if param.Default != nil {
			mapped[param.Name] = param.Default
			continue
		}
		if param.Optional {
			continue
		}
		missing = append(missing, param.Name)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s for operation %s",
			domain.ErrMissingParameter, strings.Join(missing, ", "), op.Name)
	}
	return mapped, nil
}

// bindPositional resolves an anonymized parameter. When the schema carries
// a semantic type tag, an alias match on the tag wins; otherwise the value
// at the same position in the bag is used, falling back to the first value.
func (a *Adapter) bindPositional(param domain.ParameterSpec, index int, bag *InputBag) (any, bool) {
	if param.SemanticType != "" {
		if key := a.mapper.FindBestMatch(param.SemanticType, bag); key != "" {
			value, _ := bag.Get(key)
			return value, true
		}
	}
	if value, ok := bag.ValueAt(index); ok {
		return value, true
	}
	if value, ok := bag.ValueAt(0); ok {
		return value, true
	}
	return nil, false
}

// ValidateReady reports whether the operation could be invoked with the
// bag as is, returning a diagnostic naming the unresolved parameters.
func (a *Adapter) ValidateReady(op domain.OperationDescriptor, bag *InputBag) (bool, string) {
	if _, err := a.AdaptInputs(op, bag); err != nil {
		return false, err.Error()
	}
	return true, ""
}
