package anomaly

import (
	"fmt"
	"math"
)

// Activation names accepted in model.json
const (
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationLinear  = "linear"
	ActivationTanh    = "tanh"
)

// Layer is a dense layer: out = activation(in · Weights + Bias).
// Weights are indexed [input][output].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Inputs returns the layer input width
func (l Layer) Inputs() int {
	return len(l.Weights)
}

// Outputs returns the layer output width
func (l Layer) Outputs() int {
	return len(l.Bias)
}

func (l Layer) validate() error {
	if l.Inputs() == 0 || l.Outputs() == 0 {
		return fmt.Errorf("empty layer")
	}
	for i, row := range l.Weights {
		if len(row) != l.Outputs() {
			return fmt.Errorf("weights row %d has %d columns, bias has %d", i, len(row), l.Outputs())
		}
	}
	if activationFunc(l.Activation) == nil {
		return fmt.Errorf("unknown activation %q", l.Activation)
	}
	return nil
}

func (l Layer) forward(in []float64) []float64 {
	act := activationFunc(l.Activation)
	out := make([]float64, l.Outputs())

	for j := range out {
		sum := l.Bias[j]
		for i, x := range in {
			sum += x * l.Weights[i][j]
		}
		out[j] = act(sum)
	}

	return out
}

func activationFunc(name string) func(float64) float64 {
	switch name {
	case ActivationReLU:
		return func(x float64) float64 { return math.Max(0, x) }
	case ActivationSigmoid:
		return func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	case ActivationLinear, "":
		return func(x float64) float64 { return x }
	case ActivationTanh:
		return math.Tanh
	default:
		return nil
	}
}

// Network is a stack of dense layers mapping FeatureCount inputs back to
// FeatureCount outputs.
type Network struct {
	layers []Layer
}

// NewNetwork validates that the layers chain together and that the network
// reconstructs a full feature vector.
func NewNetwork(layers []Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("network has no layers")
	}

	for i, l := range layers {
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if i > 0 && layers[i-1].Outputs() != l.Inputs() {
			return nil, fmt.Errorf("layer %d expects %d inputs, previous layer gives %d",
				i, l.Inputs(), layers[i-1].Outputs())
		}
	}

	if layers[0].Inputs() != FeatureCount {
		return nil, fmt.Errorf("network expects %d inputs, want %d", layers[0].Inputs(), FeatureCount)
	}
	if last := layers[len(layers)-1]; last.Outputs() != FeatureCount {
		return nil, fmt.Errorf("network produces %d outputs, want %d", last.Outputs(), FeatureCount)
	}

	return &Network{layers: layers}, nil
}

// Reconstruct runs the forward pass
func (n *Network) Reconstruct(v FeatureVector) FeatureVector {
	cur := v[:]
	for _, l := range n.layers {
		cur = l.forward(cur)
	}

	var out FeatureVector
	copy(out[:], cur)
	return out
}
