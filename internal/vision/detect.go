package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found in an image, in original pixel coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// detStrides are the anchor strides of the det_10g SCRFD graph, two anchors
// per feature-map cell. The landmark outputs exist in the graph but are not
// bound: this service only ever needs the box of the best face.
var detStrides = []int{8, 16, 32}

const detAnchors = 2

// Detector finds faces with the det_10g ONNX model on a fixed 640x640
// input. One instance owns its tensors; calls must not overlap.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32

	InputW int
	InputH int
}

// NewDetector loads the detection model. threshold is the minimum score for
// a candidate to be considered at all.
func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	const inputW, inputH = 640, 640

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputH, inputW))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output tensor names are fixed by the graph. Scores come first, then
	// the box regressions, stride-aligned: cells(s) = (640/s)^2 * anchors.
	specs := []struct {
		name string
		cols int64
	}{
		{"448", 1}, {"471", 1}, {"494", 1}, // scores, strides 8/16/32
		{"451", 4}, {"474", 4}, {"497", 4}, // boxes, strides 8/16/32
	}

	names := make([]string, len(specs))
	outputs := make([]*ort.Tensor[float32], len(specs))
	values := make([]ort.Value, len(specs))
	for i, spec := range specs {
		stride := detStrides[i%len(detStrides)]
		rows := int64(inputW / stride * inputH / stride * detAnchors)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			input.Destroy()
			for j := 0; j < i; j++ {
				outputs[j].Destroy()
			}
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		names[i] = spec.name
		outputs[i] = t
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{input}, values, nil)
	if err != nil {
		input.Destroy()
		for _, t := range outputs {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:   session,
		input:     input,
		outputs:   outputs,
		threshold: threshold,
		InputW:    inputW,
		InputH:    inputH,
	}, nil
}

// Best runs detection and returns the single most confident face, or nil
// when nothing clears the threshold. imgData is the CHW-normalized input;
// origW/origH map the box back to source pixels.
func (d *Detector) Best(imgData []float32, origW, origH int) (*Detection, error) {
	copy(d.input.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	scaleW := float32(origW) / float32(d.InputW)
	scaleH := float32(origH) / float32(d.InputH)

	var best *Detection
	for si, stride := range detStrides {
		scores := d.outputs[si].GetData()
		boxes := d.outputs[si+len(detStrides)].GetData()
		cand := bestAtStride(scores, boxes, stride, d.InputW, d.InputH, d.threshold, scaleW, scaleH, origW, origH)
		if cand != nil && (best == nil || cand.Confidence > best.Confidence) {
			best = cand
		}
	}
	return best, nil
}

// bestAtStride decodes one stride's outputs and keeps only the top-scoring
// candidate. Boxes are regressed as stride-scaled distances from the anchor
// center to each edge.
func bestAtStride(scores, boxes []float32, stride, inputW, inputH int, threshold, scaleW, scaleH float32, origW, origH int) *Detection {
	fmW := inputW / stride
	fmH := inputH / stride
	st := float32(stride)

	bestIdx := -1
	var bestScore float32
	for idx := 0; idx < fmW*fmH*detAnchors && idx < len(scores); idx++ {
		if s := scores[idx]; s >= threshold && (bestIdx < 0 || s > bestScore) {
			bestIdx = idx
			bestScore = s
		}
	}
	if bestIdx < 0 {
		return nil
	}

	cell := bestIdx / detAnchors
	cx := float32(cell%fmW) * st
	cy := float32(cell/fmW) * st

	x1 := (cx - boxes[bestIdx*4+0]*st) * scaleW
	y1 := (cy - boxes[bestIdx*4+1]*st) * scaleH
	x2 := (cx + boxes[bestIdx*4+2]*st) * scaleW
	y2 := (cy + boxes[bestIdx*4+3]*st) * scaleH

	return &Detection{
		BBox: [4]float32{
			clamp(x1, 0, float32(origW)),
			clamp(y1, 0, float32(origH)),
			clamp(x2, 0, float32(origW)),
			clamp(y2, 0, float32(origH)),
		},
		Confidence: bestScore,
	}
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		if t != nil {
			t.Destroy()
		}
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
