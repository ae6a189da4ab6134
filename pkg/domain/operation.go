package domain

// Tier is a coarse trust classification attached to an operation by the
// catalog. Tier-A operations are deterministic and dependency-free; Tier-B
// operations are context-dependent and need care in composition.
type Tier string

const (
	// TierA marks fully deterministic, verified operations.
	TierA Tier = "A"
	// TierB marks context-dependent operations with known edge cases.
	TierB Tier = "B"
	// TierUnclassified marks operations that have not been classified yet.
	TierUnclassified Tier = "unclassified"
	// TierQuarantined marks operations withdrawn from use.
	TierQuarantined Tier = "quarantined"
)

// ParameterSpec describes a single declared parameter or output of an
// operation. The catalog produces these once at build time; the core never
// inspects stored source.
type ParameterSpec struct {
	Name         string `json:"name" yaml:"name"`
	SemanticType string `json:"semantic_type,omitempty" yaml:"semantic_type,omitempty"`
	DataType     string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Optional     bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Default      any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// OperationDescriptor is the catalog's read-only view of a vetted operation.
// Identity is a stable content-derived id; StoredSignature is the catalog's
// record of the normalized signature, surfaced for diagnostics only.
type OperationDescriptor struct {
	Name            string          `json:"name" yaml:"name"`
	Identity        string          `json:"identity" yaml:"identity"`
	Tier            Tier            `json:"tier" yaml:"tier"`
	Parameters      []ParameterSpec `json:"parameters" yaml:"parameters"`
	Outputs         []ParameterSpec `json:"outputs" yaml:"outputs"`
	StoredSignature string          `json:"stored_signature,omitempty" yaml:"stored_signature,omitempty"`
}

// RequiredParameters returns the names of parameters that must be bound
// before the operation can be invoked.
func (d OperationDescriptor) RequiredParameters() []string {
	var required []string
	for _, p := range d.Parameters {
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	return required
}
