package decoder

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type formPart struct {
	name     string
	filename string
	data     []byte
}

// buildForm writes parts the way the upstream cluster does: file parts with
// an image/png content type regardless of the payload encoding.
func buildForm(t *testing.T, parts ...formPart) ([]byte, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.filename != "" {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.name, p.filename))
			h.Set("Content-Type", "image/png")
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.name))
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body.Bytes(), w.FormDataContentType()
}

func newDecoder() *Decoder {
	return New(32<<20, logger.NewNop())
}

func TestDecode_BinaryAndBase64AreEquivalent(t *testing.T) {
	low, medium, high := pngBytes(t, 4, 4), pngBytes(t, 8, 8), pngBytes(t, 16, 16)

	binBody, binType := buildForm(t,
		formPart{"256.png", "256.png", low},
		formPart{"720.png", "720.png", medium},
		formPart{"1080.png", "1080.png", high},
		formPart{name: "topic", data: []byte("camera-1")},
	)
	b64Body, b64Type := buildForm(t,
		formPart{"256.png", "256.png", []byte(base64.StdEncoding.EncodeToString(low))},
		formPart{"720.png", "720.png", []byte(base64.StdEncoding.EncodeToString(medium))},
		formPart{"1080.png", "1080.png", []byte(base64.StdEncoding.EncodeToString(high))},
		formPart{name: "topic", data: []byte("camera-1")},
	)

	d := newDecoder()
	fromBinary, err := d.Decode(bytes.NewReader(binBody), binType, "")
	require.NoError(t, err)
	fromBase64, err := d.Decode(bytes.NewReader(b64Body), b64Type, "")
	require.NoError(t, err)

	for _, res := range model.Resolutions {
		a, aerr := fromBinary.Frame(res)
		b, berr := fromBase64.Frame(res)
		require.Nil(t, aerr, res)
		require.Nil(t, berr, res)
		assert.Equal(t, a, b, res)
	}
	assert.Equal(t, "camera-1", fromBinary.Topic)
	assert.Empty(t, fromBase64.DecodeErrors)
}

func TestDecode_MissingResolution(t *testing.T) {
	body, ct := buildForm(t,
		formPart{"256.png", "256.png", pngBytes(t, 4, 4)},
		formPart{"1080.png", "1080.png", pngBytes(t, 4, 4)},
	)

	req, err := newDecoder().Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)

	_, ferr := req.Frame(model.ResolutionMedium)
	require.NotNil(t, ferr)
	assert.Equal(t, model.CodeMissingField, ferr.Code)
	assert.Equal(t, model.ResolutionMedium, ferr.Resolution)

	_, ferr = req.Frame(model.ResolutionLow)
	assert.Nil(t, ferr)
}

func TestDecode_AmbiguousPayload(t *testing.T) {
	notImage := base64.StdEncoding.EncodeToString([]byte("hello world, not pixels"))
	body, ct := buildForm(t,
		formPart{"256.png", "256.png", []byte("this is !! plain text")},
		formPart{"720.png", "720.png", []byte(notImage)},
		formPart{"1080.png", "1080.png", pngBytes(t, 4, 4)},
	)

	req, err := newDecoder().Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)

	_, ferr := req.Frame(model.ResolutionLow)
	require.NotNil(t, ferr)
	assert.Equal(t, model.CodeAmbiguousEncoding, ferr.Code)

	_, ferr = req.Frame(model.ResolutionMedium)
	require.NotNil(t, ferr)
	assert.Equal(t, model.CodeAmbiguousEncoding, ferr.Code)

	_, ferr = req.Frame(model.ResolutionHigh)
	assert.Nil(t, ferr)
}

func TestDecode_EmptyAndBrokenParts(t *testing.T) {
	body, ct := buildForm(t,
		formPart{"256.png", "256.png", nil},
		formPart{"720.png", "720.png", []byte("iVBORw0KGg=")},
	)

	req, err := newDecoder().Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)

	_, ferr := req.Frame(model.ResolutionLow)
	require.NotNil(t, ferr)
	assert.Equal(t, model.CodeDecode, ferr.Code)

	_, ferr = req.Frame(model.ResolutionMedium)
	require.NotNil(t, ferr)
	assert.Equal(t, model.CodeDecode, ferr.Code)
}

func TestDecode_DataURLAndWrappedBase64(t *testing.T) {
	img := pngBytes(t, 6, 6)
	encoded := base64.StdEncoding.EncodeToString(img)
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 20 {
		wrapped.WriteString(encoded[i:min(i+20, len(encoded))])
		wrapped.WriteString("\r\n")
	}

	body, ct := buildForm(t,
		formPart{"low", "", []byte("data:image/png;base64," + encoded)},
		formPart{"medium", "", []byte(wrapped.String())},
		formPart{"high", "", []byte(base64.RawURLEncoding.EncodeToString(img))},
	)

	req, err := newDecoder().Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)
	for _, res := range model.Resolutions {
		frame, ferr := req.Frame(res)
		require.Nil(t, ferr, res)
		assert.Equal(t, img, frame, res)
	}
}

func TestDecode_Topic(t *testing.T) {
	d := newDecoder()

	body, ct := buildForm(t, formPart{"256.png", "256.png", pngBytes(t, 4, 4)})
	req, err := d.Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownTopic, req.Topic)

	body, ct = buildForm(t,
		formPart{"256.png", "256.png", pngBytes(t, 4, 4)},
		formPart{name: "topic", data: []byte("   ")},
	)
	req, err = d.Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownTopic, req.Topic)

	body, ct = buildForm(t,
		formPart{"256.png", "256.png", pngBytes(t, 4, 4)},
		formPart{name: "topic", data: []byte(strings.Repeat("x", MaxTopicLength+1))},
	)
	_, err = d.Decode(bytes.NewReader(body), ct, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	body, ct = buildForm(t,
		formPart{"256.png", "256.png", pngBytes(t, 4, 4)},
		formPart{name: "topic", data: []byte("cam\x00era")},
	)
	_, err = d.Decode(bytes.NewReader(body), ct, "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDecode_CorrelationID(t *testing.T) {
	d := newDecoder()
	body, ct := buildForm(t, formPart{"256.png", "256.png", pngBytes(t, 4, 4)})

	req, err := d.Decode(bytes.NewReader(body), ct, "from-header")
	require.NoError(t, err)
	assert.Equal(t, "from-header", req.CorrelationID)

	req, err = d.Decode(bytes.NewReader(body), ct, "")
	require.NoError(t, err)
	assert.Len(t, req.CorrelationID, 36)

	body, ct = buildForm(t,
		formPart{"256.png", "256.png", pngBytes(t, 4, 4)},
		formPart{name: "correlation_id", data: []byte("from-form")},
		formPart{name: "include_detections", data: []byte("true")},
	)
	req, err = d.Decode(bytes.NewReader(body), ct, "from-header")
	require.NoError(t, err)
	assert.Equal(t, "from-form", req.CorrelationID)
	assert.True(t, req.IncludeDetections)
}

func TestDecode_RawScanRecoversMalformedBody(t *testing.T) {
	img := pngBytes(t, 4, 4)
	encoded := base64.StdEncoding.EncodeToString(img)

	// no closing delimiter and a boundary that differs from the header
	raw := "--real-boundary\r\n" +
		"Content-Disposition: form-data; name=\"256.png\"; filename=\"256.png\"\r\n" +
		"Content-Type: image/png\r\n\r\n" +
		encoded + "\r\n" +
		"--real-boundary\r\n" +
		"Content-Disposition: form-data; name=\"topic\"\r\n\r\n" +
		"lobby\r\n"

	req, err := newDecoder().Decode(strings.NewReader(raw), "multipart/form-data; boundary=declared-boundary", "")
	require.NoError(t, err)

	frame, ferr := req.Frame(model.ResolutionLow)
	require.Nil(t, ferr)
	assert.Equal(t, img, frame)
	assert.Equal(t, "lobby", req.Topic)
}

func TestDecode_RawScanBinaryWithoutBoundaryHeader(t *testing.T) {
	img := pngBytes(t, 4, 4)
	var raw bytes.Buffer
	raw.WriteString("--xyz\r\nContent-Disposition: form-data; name=\"720.png\"\r\n\r\n")
	raw.Write(img)
	raw.WriteString("\r\n--xyz--\r\n")

	req, err := newDecoder().Decode(bytes.NewReader(raw.Bytes()), "application/octet-stream", "")
	require.NoError(t, err)

	frame, ferr := req.Frame(model.ResolutionMedium)
	require.Nil(t, ferr)
	assert.Equal(t, img, frame)
}

func TestDecode_MarkerScanWithoutDelimiters(t *testing.T) {
	img := pngBytes(t, 4, 4)
	raw := "Content-Disposition: form-data; name=\"256.png\"\r\n\r\n" +
		base64.StdEncoding.EncodeToString(img) + "\r\n" +
		"Content-Disposition: form-data; name=\"1080.png\"\r\n\r\n" +
		base64.StdEncoding.EncodeToString(img) + "\r\n"

	req, err := newDecoder().Decode(strings.NewReader(raw), "", "")
	require.NoError(t, err)

	for _, res := range []model.Resolution{model.ResolutionLow, model.ResolutionHigh} {
		frame, ferr := req.Frame(res)
		require.Nil(t, ferr, res)
		assert.Equal(t, img, frame)
	}
	_, ferr := req.Frame(model.ResolutionMedium)
	assert.Equal(t, model.CodeMissingField, ferr.Code)
}

func TestDecode_UnrecognisableBody(t *testing.T) {
	_, err := newDecoder().Decode(strings.NewReader("just some bytes"), "text/plain", "")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = newDecoder().Decode(strings.NewReader(""), "multipart/form-data; boundary=x", "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDecode_BodyTooLarge(t *testing.T) {
	body, ct := buildForm(t, formPart{"256.png", "256.png", pngBytes(t, 64, 64)})
	d := New(int64(len(body)-1), logger.NewNop())

	_, err := d.Decode(bytes.NewReader(body), ct, "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestClassify(t *testing.T) {
	img := pngBytes(t, 2, 2)

	_, enc, err := Classify(img)
	require.Nil(t, err)
	assert.Equal(t, EncodingBinary, enc)

	out, enc, err := Classify([]byte(base64.StdEncoding.EncodeToString(img)))
	require.Nil(t, err)
	assert.Equal(t, EncodingBase64, enc)
	assert.Equal(t, img, out)

	_, _, err = Classify([]byte("\x01\x02\x03binary junk"))
	require.NotNil(t, err)
	assert.Equal(t, model.CodeAmbiguousEncoding, err.Code)
}
