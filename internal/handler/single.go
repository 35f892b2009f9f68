package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"objectdetection/internal/config"
	"objectdetection/internal/dto"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/ai"
	"objectdetection/internal/service/decoder"
)

// SingleDetector runs the engine on one image outside the multi-resolution path.
type SingleDetector interface {
	Infer(ctx context.Context, image []byte) ([]model.Detection, []byte, error)
	Info() ai.ModelInfo
}

type base64Request struct {
	Image string `json:"image"`
}

type base64BatchRequest struct {
	Images []struct {
		ID   string  `json:"id"`
		Data *string `json:"data"`
	} `json:"images"`
}

// DetectHandler detects objects in the multipart "image" file and returns the
// detections together with the annotated JPEG.
func DetectHandler(detector SingleDetector, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(cfg.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, model.CodeValidation, "No image file provided", logger)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, model.CodeMissingField, "No image file provided", logger)
			return
		}
		defer file.Close()
		if header.Filename == "" {
			writeError(w, http.StatusBadRequest, model.CodeMissingField, "No selected file", logger)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, model.CodeValidation, "Failed to read image", logger)
			return
		}

		info, detections, annotated, err := detectOne(r.Context(), detector, data, cfg.TaskTimeout)
		if err != nil {
			logger.Warning("Single detect failed: %v", err)
			writeError(w, statusFor(err), model.CodeOf(err), err.Error(), logger)
			return
		}

		modelInfo := detector.Info()
		writeJSON(w, http.StatusOK, dto.SingleDetectResponse{
			Success:         true,
			Timestamp:       nowStamp(),
			ImageDimensions: &dto.Dimensions{Width: info.Width, Height: info.Height},
			DetectionCount:  len(detections),
			Detections:      detections,
			AnnotatedImage:  base64.StdEncoding.EncodeToString(annotated),
			ModelInfo: &dto.ModelSummary{
				Model:               modelInfo.Name,
				ConfidenceThreshold: modelInfo.ConfidenceThreshold,
				IOUThreshold:        modelInfo.IOUThreshold,
			},
		}, logger)
	}
}

// DetectBatchFilesHandler detects objects in every multipart "images" file.
// A bad image fails only its own entry.
func DetectBatchFilesHandler(detector SingleDetector, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(cfg.MaxUploadBytes); err != nil || len(r.MultipartForm.File["images"]) == 0 {
			writeError(w, http.StatusBadRequest, model.CodeMissingField, "No image files provided", logger)
			return
		}

		files := r.MultipartForm.File["images"]
		results := make([]dto.BatchImageResult, 0, len(files))
		for idx, fh := range files {
			index := idx
			entry := dto.BatchImageResult{FileIndex: &index, Filename: fh.Filename}

			data, err := readFileHeader(fh)
			if err == nil && len(data) == 0 {
				err = model.NewError(model.CodeDecode, "", "Empty file")
			}
			if err == nil {
				_, entry.Detections, _, err = detectOne(r.Context(), detector, data, cfg.TaskTimeout)
			}
			fill(&entry, err)
			results = append(results, entry)
		}

		writeJSON(w, http.StatusOK, dto.BatchDetectResponse{
			Success:     true,
			Timestamp:   nowStamp(),
			TotalImages: len(files),
			Results:     results,
		}, logger)
	}
}

// DetectBase64Handler detects objects in a JSON {"image": "<base64>"} body.
func DetectBase64Handler(detector SingleDetector, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body base64Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)).Decode(&body); err != nil || body.Image == "" {
			writeError(w, http.StatusBadRequest, model.CodeMissingField, "No image data provided in JSON", logger)
			return
		}

		data, _, decErr := decoder.Classify([]byte(body.Image))
		if decErr != nil {
			writeError(w, http.StatusBadRequest, decErr.Code, "Base64 decode error: "+decErr.Message, logger)
			return
		}

		info, detections, _, err := detectOne(r.Context(), detector, data, cfg.TaskTimeout)
		if err != nil {
			logger.Warning("Base64 detect failed: %v", err)
			writeError(w, statusFor(err), model.CodeOf(err), err.Error(), logger)
			return
		}

		writeJSON(w, http.StatusOK, dto.SingleDetectResponse{
			Success:         true,
			Timestamp:       nowStamp(),
			ImageDimensions: &dto.Dimensions{Width: info.Width, Height: info.Height},
			DetectionCount:  len(detections),
			Detections:      detections,
		}, logger)
	}
}

// DetectBase64BatchHandler detects objects in {"images": [{"id", "data"}]}.
func DetectBase64BatchHandler(detector SingleDetector, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body base64BatchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)).Decode(&body); err != nil || body.Images == nil {
			writeError(w, http.StatusBadRequest, model.CodeMissingField, "No images array provided in JSON", logger)
			return
		}
		if len(body.Images) == 0 {
			writeError(w, http.StatusBadRequest, model.CodeValidation, "Empty images array", logger)
			return
		}

		results := make([]dto.BatchImageResult, 0, len(body.Images))
		for idx, img := range body.Images {
			entry := dto.BatchImageResult{ID: img.ID}
			if entry.ID == "" {
				entry.ID = "image_" + strconv.Itoa(idx)
			}

			var err error
			if img.Data == nil {
				err = model.NewError(model.CodeMissingField, "", "No data field in image object")
			} else if data, _, decErr := decoder.Classify([]byte(*img.Data)); decErr != nil {
				err = decErr
			} else {
				_, entry.Detections, _, err = detectOne(r.Context(), detector, data, cfg.TaskTimeout)
			}
			fill(&entry, err)
			results = append(results, entry)
		}

		writeJSON(w, http.StatusOK, dto.BatchDetectResponse{
			Success:     true,
			Timestamp:   nowStamp(),
			TotalImages: len(body.Images),
			Results:     results,
		}, logger)
	}
}

// detectOne validates the image header and runs inference under a per-image deadline.
func detectOne(ctx context.Context, detector SingleDetector, data []byte, timeout time.Duration) (ai.ImageInfo, []model.Detection, []byte, error) {
	info, err := ai.Validate(data)
	if err != nil {
		return ai.ImageInfo{}, nil, nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	detections, annotated, err := detector.Infer(ctx, data)
	if err != nil {
		return info, nil, nil, err
	}
	if detections == nil {
		detections = []model.Detection{}
	}
	return info, detections, annotated, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, model.WrapError(model.CodeValidation, "", errors.Wrapf(err, "failed to open %s", fh.Filename))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, model.WrapError(model.CodeValidation, "", errors.Wrapf(err, "failed to read %s", fh.Filename))
	}
	return data, nil
}

func fill(entry *dto.BatchImageResult, err error) {
	if err != nil {
		entry.Success = false
		entry.Detections = nil
		entry.Error = err.Error()
		return
	}
	entry.Success = true
	entry.DetectionCount = len(entry.Detections)
}

// statusFor maps a classified error to the HTTP status of a single-image call.
func statusFor(err error) int {
	code := model.CodeOf(err)
	switch {
	case model.IsClientError(code):
		return http.StatusBadRequest
	case code == model.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
