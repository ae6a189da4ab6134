package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sequorlabs/sequor/pkg/domain"
)

// GraphDocument is the on-disk form of a composed graph. It is the format
// `sequor run` accepts and the format an external composer is expected to
// emit.
type GraphDocument struct {
	Query  string              `json:"query,omitempty" yaml:"query,omitempty"`
	Nodes  []GraphNodeDocument `json:"nodes" yaml:"nodes"`
	Inputs map[string]any      `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// GraphNodeDocument is one node of a graph document. ID is optional and
// defaults to the operation name; it only matters when the same operation
// appears more than once and upstream edges need to tell them apart.
type GraphNodeDocument struct {
	Operation  string   `json:"operation" yaml:"operation"`
	ID         string   `json:"id,omitempty" yaml:"id,omitempty"`
	Upstream   []string `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Provenance string   `json:"provenance,omitempty" yaml:"provenance,omitempty"`
}

// LoadGraph reads a graph document from path and converts it to a domain
// graph plus the document's initial inputs. Structural problems are recorded
// as diagnostics on the graph rather than returned as errors; the executor
// decides what to do with an invalid graph.
func LoadGraph(path string) (domain.Graph, map[string]any, error) {
	// #nosec G304 -- path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Graph{}, nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	var doc GraphDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return domain.Graph{}, nil, fmt.Errorf("failed to parse graph file: %v", err)
		}
	}

	graph := doc.ToGraph()
	return graph, doc.Inputs, nil
}

// ToGraph converts the document into a domain graph, assigning positions and
// validating node references.
func (d GraphDocument) ToGraph() domain.Graph {
	graph := domain.Graph{
		Query: d.Query,
		Nodes: make([]domain.GraphNode, 0, len(d.Nodes)),
	}

	if len(d.Nodes) == 0 {
		graph.Diagnostics = append(graph.Diagnostics, "graph has no nodes")
		return graph
	}

	seen := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		ref := n.ID
		if ref == "" {
			ref = n.Operation
		}
		if ref == "" {
			graph.Diagnostics = append(graph.Diagnostics,
				fmt.Sprintf("node %d names no operation", i))
			continue
		}
		for _, up := range n.Upstream {
			if !seen[up] {
				graph.Diagnostics = append(graph.Diagnostics,
					fmt.Sprintf("node %d references unknown upstream %q", i, up))
			}
		}
		seen[ref] = true
		graph.Nodes = append(graph.Nodes, domain.GraphNode{
			OperationID:   ref,
			OperationName: n.Operation,
			Position:      i,
			Upstream:      n.Upstream,
			Provenance:    n.Provenance,
		})
	}

	graph.Valid = len(graph.Diagnostics) == 0
	return graph
}
