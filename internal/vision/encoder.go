// Package vision adapts image bytes into face signature vectors. The rest
// of the service treats encoding as an opaque capability: images never
// travel past this package, and a probe with no usable face is a value
// (ErrNoFace), not a fault.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// ErrNoFace reports that no face cleared the detection threshold. Callers
// translate it into the no-face-detected decision.
var ErrNoFace = errors.New("vision: no face found in image")

// ErrBadImage reports input that could not be decoded at all. Unlike
// ErrNoFace this is a client error, not a verification outcome.
var ErrBadImage = errors.New("vision: undecodable image")

// Encoder turns an image into a signature vector plus a quality score (the
// detector's confidence for the chosen face).
type Encoder interface {
	Encode(ctx context.Context, imageData []byte) ([]float32, float32, error)
}

// ONNXEncoder runs face detection and embedding through ONNX Runtime.
// Sessions reuse their tensors and are not safe for concurrent Run calls,
// so every Encode holds the encoder's mutex.
type ONNXEncoder struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewONNXEncoder loads the detection and embedding models from modelsDir.
// threshold is the minimum detector confidence for a face to count.
func NewONNXEncoder(modelsDir string, threshold float32) (*ONNXEncoder, error) {
	detPath := filepath.Join(modelsDir, "det_10g.onnx")
	embPath := filepath.Join(modelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, threshold)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXEncoder{detector: det, embedder: emb}, nil
}

type encodeResult struct {
	vec     []float32
	quality float32
	err     error
}

// Encode decodes the image, finds the most confident face and returns its
// embedding. The context deadline bounds the wait: on expiry the inference
// goroutine is abandoned (it releases the mutex when ONNX returns) and the
// caller gets ctx.Err.
func (e *ONNXEncoder) Encode(ctx context.Context, imageData []byte) ([]float32, float32, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, 0, fmt.Errorf("decode image: %w", err)
	}

	done := make(chan encodeResult, 1)
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		done <- e.encodeLocked(img)
	}()

	select {
	case res := <-done:
		return res.vec, res.quality, res.err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (e *ONNXEncoder) encodeLocked(img imageWithSize) encodeResult {
	detInput := detectionTensor(img.img, e.detector.InputW, e.detector.InputH)
	best, err := e.detector.Best(detInput, img.w, img.h)
	if err != nil {
		return encodeResult{err: fmt.Errorf("detect: %w", err)}
	}
	if best == nil {
		return encodeResult{err: ErrNoFace}
	}

	crop := cropRegion(img.img, best.BBox)
	if crop == nil {
		return encodeResult{err: ErrNoFace}
	}

	embInput := embeddingTensor(crop, e.embedder.InputW, e.embedder.InputH)
	vec, err := e.embedder.Embed(embInput)
	if err != nil {
		return encodeResult{err: fmt.Errorf("embed: %w", err)}
	}
	return encodeResult{vec: vec, quality: best.Confidence}
}

// Dim reports the embedding dimension produced by the encoder.
func (e *ONNXEncoder) Dim() int {
	return e.embedder.Dim()
}

// Close releases the ONNX sessions.
func (e *ONNXEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}
