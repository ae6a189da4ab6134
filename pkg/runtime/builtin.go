package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/sequorlabs/sequor/pkg/domain"
)

// Reference operations. These are compiled stand-ins for cataloged
// operations: small, deterministic, and fully declared. They back the demo
// graphs and give integration tests real operations to chain.

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// builtinIdentity derives a stable content id from the operation's name
// and signature, the same shape the catalog assigns vetted operations.
func builtinIdentity(name, signature string) string {
	sum := sha256.Sum256([]byte(name + "|" + signature))
	return hex.EncodeToString(sum[:])[:16]
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// RegisterBuiltins loads the reference operation set into a registry.
func RegisterBuiltins(registry *Registry) error {
	builtins := []struct {
		descriptor domain.OperationDescriptor
		impl       OperationFunc
	}{
		{
			descriptor: domain.OperationDescriptor{
				Name:     "to_uppercase",
				Identity: builtinIdentity("to_uppercase", "(text: str) -> str"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "text", SemanticType: "text", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "result", DataType: "string"}},
				StoredSignature: "(text: str) -> str",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"result": strings.ToUpper(toString(inputs["text"]))}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "to_lowercase",
				Identity: builtinIdentity("to_lowercase", "(text: str) -> str"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "text", SemanticType: "text", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "result", DataType: "string"}},
				StoredSignature: "(text: str) -> str",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"result": strings.ToLower(toString(inputs["text"]))}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "reverse_string",
				Identity: builtinIdentity("reverse_string", "(text: str) -> str"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "text", SemanticType: "text", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "result", DataType: "string"}},
				StoredSignature: "(text: str) -> str",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				runes := []rune(toString(inputs["text"]))
				for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
					runes[i], runes[j] = runes[j], runes[i]
				}
				return map[string]any{"result": string(runes)}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "word_count",
				Identity: builtinIdentity("word_count", "(text: str) -> int"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "text", SemanticType: "text", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "count", DataType: "integer"}},
				StoredSignature: "(text: str) -> int",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"count": len(strings.Fields(toString(inputs["text"])))}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "is_valid_email",
				Identity: builtinIdentity("is_valid_email", "(email: str) -> bool"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "email", SemanticType: "email", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "valid", DataType: "boolean"}},
				StoredSignature: "(email: str) -> bool",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				email := toString(inputs["email"])
				return map[string]any{"valid": email != "" && emailPattern.MatchString(email)}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "mask_email",
				Identity: builtinIdentity("mask_email", "(email: str) -> str"),
				Tier:     domain.TierB,
				Parameters: []domain.ParameterSpec{
					{Name: "email", SemanticType: "email", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "masked", DataType: "string"}},
				StoredSignature: "(email: str) -> str",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"masked": maskEmail(toString(inputs["email"]))}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "format_currency",
				Identity: builtinIdentity("format_currency", "(amount: float, symbol: str) -> str"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "amount", SemanticType: "price", DataType: "float"},
					{Name: "symbol", DataType: "string", Optional: true, Default: "$"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "formatted", DataType: "string"}},
				StoredSignature: "(amount: float, symbol: str = \"$\") -> str",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				amount, ok := toFloat(inputs["amount"])
				if !ok {
					return nil, fmt.Errorf("amount is not numeric: %v", inputs["amount"])
				}
				return map[string]any{"formatted": fmt.Sprintf("%s%.2f", toString(inputs["symbol"]), amount)}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "apply_discount",
				Identity: builtinIdentity("apply_discount", "(price: float, discount: float) -> float"),
				Tier:     domain.TierB,
				Parameters: []domain.ParameterSpec{
					{Name: "price", SemanticType: "price", DataType: "float"},
					{Name: "discount", SemanticType: "discount", DataType: "float"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "total", DataType: "float"}},
				StoredSignature: "(price: float, discount: float) -> float",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				price, ok := toFloat(inputs["price"])
				if !ok {
					return nil, fmt.Errorf("price is not numeric: %v", inputs["price"])
				}
				discount, ok := toFloat(inputs["discount"])
				if !ok {
					return nil, fmt.Errorf("discount is not numeric: %v", inputs["discount"])
				}
				if discount < 0 || discount > 1 {
					return nil, fmt.Errorf("discount %v outside [0, 1]", discount)
				}
				return map[string]any{"total": price * (1 - discount)}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "count_matches",
				Identity: builtinIdentity("count_matches", "(text: str, pattern: str) -> int"),
				Tier:     domain.TierB,
				Parameters: []domain.ParameterSpec{
					{Name: "text", SemanticType: "text", DataType: "string"},
					{Name: "pattern", DataType: "string"},
				},
				Outputs:         []domain.ParameterSpec{{Name: "count", DataType: "integer"}},
				StoredSignature: "(text: str, pattern: str) -> int",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				re, err := regexp.Compile(toString(inputs["pattern"]))
				if err != nil {
					return nil, fmt.Errorf("invalid pattern: %w", err)
				}
				return map[string]any{"count": len(re.FindAllString(toString(inputs["text"]), -1))}, nil
			},
		},
		{
			descriptor: domain.OperationDescriptor{
				Name:     "truncate_text",
				Identity: builtinIdentity("truncate_text", "(text: str, limit: int) -> str"),
				Tier:     domain.TierA,
				Parameters: []domain.ParameterSpec{
					{Name: "text", SemanticType: "text", DataType: "string"},
					{Name: "limit", SemanticType: "limit", DataType: "integer", Optional: true, Default: 80},
				},
				Outputs:         []domain.ParameterSpec{{Name: "result", DataType: "string"}},
				StoredSignature: "(text: str, limit: int = 80) -> str",
			},
			impl: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				text := toString(inputs["text"])
				limit, ok := toFloat(inputs["limit"])
				if !ok || limit <= 0 {
					return nil, fmt.Errorf("limit is not a positive number: %v", inputs["limit"])
				}
				n := int(limit)
				if len(text) > n {
					text = text[:n] + "..."
				}
				return map[string]any{"result": text}, nil
			},
		},
	}

	for _, b := range builtins {
		if err := registry.Register(b.descriptor, b.impl); err != nil {
			return err
		}
	}
	return nil
}

// maskEmail hides the local part of an address except its first and last
// character. Non-address strings keep only their last two characters.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		if len(email) <= 2 {
			return strings.Repeat("*", len(email))
		}
		return strings.Repeat("*", len(email)-2) + email[len(email)-2:]
	}
	local, domainPart := email[:at], email[at+1:]
	var masked string
	if len(local) <= 2 {
		masked = strings.Repeat("*", len(local))
	} else {
		masked = local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:]
	}
	return masked + "@" + domainPart
}
