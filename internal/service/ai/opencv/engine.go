// Package opencv runs an SSD detection network through OpenCV's DNN module.
package opencv

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/ai"
)

// ssdInputSize is the square input edge of MobileNet-SSD graphs.
const ssdInputSize = 300

var boxColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}

// Engine wraps a gocv.Net. It is not safe for concurrent use; callers go
// through ai.Detector.
type Engine struct {
	net           gocv.Net
	loaded        bool
	name          string
	modelPath     string
	configPath    string
	confidence    float64
	iou           float64
	maxDetections int
	logger        *logger.Logger
}

// NewEngine loads the network from the configured model and config files.
// A missing or broken model leaves the engine unloaded; Detect then fails
// with an error instead of the server refusing to start.
func NewEngine(cfg *config.Config, logger *logger.Logger) *Engine {
	e := &Engine{
		name:          cfg.ModelName,
		modelPath:     cfg.ModelPath,
		configPath:    cfg.ConfigPath,
		confidence:    cfg.ConfidenceThreshold,
		iou:           cfg.IOUThreshold,
		maxDetections: cfg.MaxDetections,
		logger:        logger,
	}

	if err := e.initializeNet(); err != nil {
		e.logger.Warning("Could not initialize detection network: %v", err)
		return e
	}
	return e
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (e *Engine) initializeNet() error {
	if _, err := os.Stat(e.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", e.modelPath)
	}
	if _, err := os.Stat(e.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", e.configPath)
	}

	net := gocv.ReadNet(e.modelPath, e.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	e.net = net
	e.loaded = true
	e.logger.Info("Detection network %s initialized from %s", e.name, e.modelPath)
	return nil
}

// Detect decodes the image, runs the network and returns the detections
// above the confidence threshold after non-maximum suppression, plus the
// annotated frame encoded as JPEG.
func (e *Engine) Detect(imageBytes []byte) ([]model.Detection, []byte, error) {
	if !e.loaded {
		return nil, nil, fmt.Errorf("detection network not initialized")
	}

	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, nil, fmt.Errorf("decoded image is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(ssdInputSize, ssdInputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	detections := e.parseOutput(output, mat.Cols(), mat.Rows())

	annotated, err := e.annotate(&mat, detections)
	if err != nil {
		return nil, nil, err
	}
	return detections, annotated, nil
}

// parseOutput reads SSD rows [batch_id, class_id, confidence, x1, y1, x2, y2]
// with normalized coordinates.
func (e *Engine) parseOutput(output gocv.Mat, cols, rows int) []model.Detection {
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	var (
		candidates []model.Detection
		boxes      []image.Rectangle
		scores     []float32
	)
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		if float64(confidence) < e.confidence {
			continue
		}
		classID := int(reshaped.GetFloatAt(i, 1))
		box := model.BoundingBox{
			X1: clamp(float64(reshaped.GetFloatAt(i, 3))*float64(cols), float64(cols)),
			Y1: clamp(float64(reshaped.GetFloatAt(i, 4))*float64(rows), float64(rows)),
			X2: clamp(float64(reshaped.GetFloatAt(i, 5))*float64(cols), float64(cols)),
			Y2: clamp(float64(reshaped.GetFloatAt(i, 6))*float64(rows), float64(rows)),
		}
		candidates = append(candidates, model.Detection{
			Class:      ai.ClassLabel(classID),
			ClassID:    classID,
			Confidence: float64(confidence),
			BBox:       box,
		})
		boxes = append(boxes, image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2)))
		scores = append(scores, confidence)
	}
	if len(candidates) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(e.confidence), float32(e.iou))
	detections := make([]model.Detection, 0, len(keep))
	for _, idx := range keep {
		if e.maxDetections > 0 && len(detections) >= e.maxDetections {
			break
		}
		detections = append(detections, candidates[idx])
	}
	return detections
}

// annotate draws detection boxes and labels and re-encodes the frame as JPEG.
func (e *Engine) annotate(mat *gocv.Mat, detections []model.Detection) ([]byte, error) {
	for _, det := range detections {
		rect := image.Rect(int(det.BBox.X1), int(det.BBox.Y1), int(det.BBox.X2), int(det.BBox.Y2))
		if err := gocv.Rectangle(mat, rect, boxColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s (%.2f)", det.Class, det.Confidence)
		pt := image.Pt(rect.Min.X, rect.Min.Y-5)
		if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %v", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", *mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %v", err)
	}
	defer buf.Close()

	finalImage := make([]byte, len(buf.GetBytes()))
	copy(finalImage, buf.GetBytes())
	return finalImage, nil
}

// Info describes the loaded model.
func (e *Engine) Info() ai.ModelInfo {
	name := e.name
	if !e.loaded {
		name += " (not loaded)"
	}
	return ai.ModelInfo{
		Name:                name,
		Classes:             ai.COCOLabels(),
		ConfidenceThreshold: e.confidence,
		IOUThreshold:        e.iou,
		MaxDetections:       e.maxDetections,
	}
}

// Close releases the network.
func (e *Engine) Close() error {
	if !e.loaded {
		return nil
	}
	e.loaded = false
	return e.net.Close()
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
