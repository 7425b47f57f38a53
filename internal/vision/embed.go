package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// EmbeddingDim is the signature vector dimension the w600k_r50 model emits.
const EmbeddingDim = 512

// Embedder produces L2-normalized 512-dim signatures with the w600k_r50
// ArcFace model from 112x112 face crops. One instance owns its tensors;
// calls must not overlap.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	InputW int
	InputH int
}

func NewEmbedder(modelPath string) (*Embedder, error) {
	const inputW, inputH = 112, 112

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputH, inputW))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, EmbeddingDim))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session: session,
		input:   input,
		output:  output,
		InputW:  inputW,
		InputH:  inputH,
	}, nil
}

// Embed runs the model on a CHW-normalized face crop and returns a fresh
// L2-normalized signature vector.
func (e *Embedder) Embed(faceData []float32) ([]float32, error) {
	copy(e.input.GetData(), faceData)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	vec := make([]float32, EmbeddingDim)
	copy(vec, e.output.GetData())
	normalize(vec)
	return vec, nil
}

// Dim reports the signature dimension.
func (e *Embedder) Dim() int {
	return EmbeddingDim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}

// normalize scales v to unit L2 norm in place. A zero vector stays zero.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
