package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequorlabs/sequor/pkg/domain"
)

func bagOf(pairs ...any) *InputBag {
	bag := NewInputBag()
	for i := 0; i+1 < len(pairs); i += 2 {
		bag.Put(pairs[i].(string), pairs[i+1])
	}
	return bag
}

func TestInputBag_OrderAndReplace(t *testing.T) {
	bag := NewInputBag()
	bag.Put("a", 1)
	bag.Put("b", 2)
	bag.Put("a", 3)

	assert.Equal(t, []string{"a", "b"}, bag.Keys(), "replacing must not reorder")
	assert.Equal(t, 2, bag.Len())

	v, ok := bag.ValueAt(0)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = bag.ValueAt(5)
	assert.False(t, ok)
}

func TestSemanticInputMapper_Precedence(t *testing.T) {
	mapper := NewSemanticInputMapper()

	tests := []struct {
		name  string
		param string
		bag   *InputBag
		want  string
	}{
		{"exact name wins", "text", bagOf("content", "x", "text", "y"), "text"},
		{"case insensitive", "Text", bagOf("text", "y"), "text"},
		{"substring match", "user_email", bagOf("email", "a@b.c"), "email"},
		{"alias table", "email", bagOf("mail", "a@b.c"), "mail"},
		{"bag key aliased to concept", "text", bagOf("message", "hi"), "message"},
		{"no match", "frobnicator", bagOf("unrelated_xyz", 1), ""},
		{"empty bag", "text", NewInputBag(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapper.FindBestMatch(tt.param, tt.bag))
		})
	}
}

func TestAdapter_ExactAndAliasBinding(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "send_notification",
		Parameters: []domain.ParameterSpec{
			{Name: "email"},
			{Name: "message"},
		},
	}

	mapped, err := adapter.AdaptInputs(op, bagOf("user_email", "a@b.c", "text", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", mapped["email"])
	assert.Equal(t, "hello", mapped["message"])
}

func TestAdapter_PositionalBinding(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "apply_discount",
		Parameters: []domain.ParameterSpec{
			{Name: "v1", SemanticType: "price"},
			{Name: "v2", SemanticType: "discount"},
		},
	}

	// Semantic tags resolve against aliases even when names are anonymized.
	mapped, err := adapter.AdaptInputs(op, bagOf("amount", 100.0, "rate", 0.2))
	require.NoError(t, err)
	assert.Equal(t, 100.0, mapped["v1"])
	assert.Equal(t, 0.2, mapped["v2"])

	// Without usable tags, schema position decides.
	opNoTags := domain.OperationDescriptor{
		Name: "apply_discount",
		Parameters: []domain.ParameterSpec{
			{Name: "v1"},
			{Name: "v2"},
		},
	}
	mapped, err = adapter.AdaptInputs(opNoTags, bagOf("zz_first", "a", "zz_second", "b"))
	require.NoError(t, err)
	assert.Equal(t, "a", mapped["v1"])
	assert.Equal(t, "b", mapped["v2"])
}

func TestAdapter_PositionalFallsBackToFirstValue(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "reverse_string",
		Parameters: []domain.ParameterSpec{
			{Name: "v1"},
			{Name: "v2"},
			{Name: "v3"},
		},
	}

	mapped, err := adapter.AdaptInputs(op, bagOf("only", "x"))
	require.NoError(t, err)
	assert.Equal(t, "x", mapped["v1"])
	assert.Equal(t, "x", mapped["v3"], "out-of-range positions reuse the first value")
}

func TestAdapter_DefaultsAndOptional(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "format_currency",
		Parameters: []domain.ParameterSpec{
			{Name: "amount"},
			{Name: "symbol", Optional: true, Default: "$"},
			{Name: "locale", Optional: true},
		},
	}

	mapped, err := adapter.AdaptInputs(op, bagOf("amount", 9.5))
	require.NoError(t, err)
	assert.Equal(t, 9.5, mapped["amount"])
	assert.Equal(t, "$", mapped["symbol"])
	_, ok := mapped["locale"]
	assert.False(t, ok, "optional without default stays unbound")
}

func TestAdapter_MissingRequiredParameterFails(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "mask_email",
		Parameters: []domain.ParameterSpec{
			{Name: "email"},
		},
	}

	mapped, err := adapter.AdaptInputs(op, bagOf("zzqq", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
	assert.Contains(t, err.Error(), "email")
	assert.Contains(t, err.Error(), "mask_email")
	assert.Nil(t, mapped)
}

func TestAdapter_ValidateReady(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "word_count",
		Parameters: []domain.ParameterSpec{
			{Name: "text"},
		},
	}

	ok, diag := adapter.ValidateReady(op, bagOf("text", "one two"))
	assert.True(t, ok)
	assert.Empty(t, diag)

	ok, diag = adapter.ValidateReady(op, NewInputBag())
	assert.False(t, ok)
	assert.Contains(t, diag, "text")
}

func TestAdapter_DeterministicBinding(t *testing.T) {
	adapter := NewAdapter()
	op := domain.OperationDescriptor{
		Name: "to_uppercase",
		Parameters: []domain.ParameterSpec{
			{Name: "text"},
		},
	}

	bag := bagOf("message", "first", "body", "second")
	want, err := adapter.AdaptInputs(op, bag)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		got, err := adapter.AdaptInputs(op, bag)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
