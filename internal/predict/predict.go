// Package predict wraps the pre-trained AKI classifier behind an opaque
// predictor boundary. The artifact is a serialized decision tree with a fixed
// feature-order contract; any compatible artifact can be substituted.
package predict

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/careflow/akimon/internal/features"
)

// Labels emitted by the classifier.
const (
	LabelPositive = "y"
	LabelNegative = "n"
)

// Predictor classifies a feature row. Implementations are stateless across
// calls.
type Predictor interface {
	Predict(row features.Row) string
}

// node is one element of the flattened decision tree. Leaves carry a label
// and have Feature == -1; split nodes route on vector[Feature] <= Threshold.
type node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Label     string  `json:"label,omitempty"`
}

type artifact struct {
	FeatureNames []string `json:"feature_names"`
	Nodes        []node   `json:"nodes"`
}

// Tree is a decision-tree classifier loaded from a JSON artifact.
type Tree struct {
	nodes []node
}

// Load reads and validates the model artifact. Failure here is fatal to the
// caller: the service must not start without a working classifier.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact %s: %w", path, err)
	}
	if len(a.Nodes) == 0 {
		return nil, fmt.Errorf("model artifact %s has no nodes", path)
	}
	dim := len(a.FeatureNames)
	for i, n := range a.Nodes {
		if n.Feature == -1 {
			if n.Label != LabelPositive && n.Label != LabelNegative {
				return nil, fmt.Errorf("node %d: leaf label %q is not y/n", i, n.Label)
			}
			continue
		}
		if dim > 0 && (n.Feature < 0 || n.Feature >= dim) {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left < 0 || n.Left >= len(a.Nodes) || n.Right < 0 || n.Right >= len(a.Nodes) {
			return nil, fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return &Tree{nodes: a.Nodes}, nil
}

// Predict walks the tree over the row's feature vector and returns the leaf
// label.
func (t *Tree) Predict(row features.Row) string {
	vec := row.Vector()
	i := 0
	for {
		n := t.nodes[i]
		if n.Feature == -1 {
			return n.Label
		}
		if n.Feature >= len(vec) {
			return LabelNegative
		}
		if vec[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

var _ Predictor = (*Tree)(nil)
