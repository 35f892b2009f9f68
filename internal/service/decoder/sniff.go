package decoder

import (
	"bytes"
	"encoding/base64"

	"objectdetection/internal/model"
	"objectdetection/internal/service/ai"
)

// Encoding is how a part's payload was transported.
type Encoding int

const (
	// EncodingBinary is raw image bytes, recognised by their file signature.
	EncodingBinary Encoding = iota
	// EncodingBase64 is base64 text, optionally wrapped in a data: URL.
	EncodingBase64
)

// classify returns the raw image bytes carried by a part. A payload is binary
// when it starts with a known image signature. Otherwise it must be base64
// text (optionally a data: URL) whose decoded bytes start with one. Anything
// else is ambiguous and never guessed at.
func classify(data []byte) ([]byte, *model.Error) {
	frame, _, err := Classify(data)
	return frame, err
}

// Classify is classify with the detected transport encoding exposed.
func Classify(data []byte) ([]byte, Encoding, *model.Error) {
	if len(data) == 0 {
		return nil, 0, model.NewError(model.CodeDecode, "", "empty part")
	}
	if ai.IsImage(data) {
		return data, EncodingBinary, nil
	}

	text := bytes.TrimSpace(data)
	if len(text) == 0 {
		return nil, 0, model.NewError(model.CodeDecode, "", "part holds only whitespace")
	}
	text = stripDataURL(text)
	if ai.IsImage(text) {
		return text, EncodingBinary, nil
	}

	compact := stripWhitespace(text)
	if len(compact) == 0 {
		return nil, 0, model.NewError(model.CodeDecode, "", "empty data URL payload")
	}
	if !isBase64Alphabet(compact) {
		return nil, 0, model.NewError(model.CodeAmbiguousEncoding, "", "payload is neither a known image format nor base64 text")
	}

	decoded, err := decodeBase64(compact)
	if err != nil {
		return nil, 0, model.NewError(model.CodeDecode, "", "invalid base64 payload: %v", err)
	}
	if len(decoded) == 0 {
		return nil, 0, model.NewError(model.CodeDecode, "", "base64 payload decodes to nothing")
	}
	if !ai.IsImage(decoded) {
		return nil, 0, model.NewError(model.CodeAmbiguousEncoding, "", "base64 payload does not decode to a known image format")
	}
	return decoded, EncodingBase64, nil
}

// stripDataURL drops a "data:<mime>;base64," prefix.
func stripDataURL(text []byte) []byte {
	if !bytes.HasPrefix(bytes.ToLower(text[:min(len(text), 5)]), []byte("data:")) {
		return text
	}
	if i := bytes.IndexByte(text, ','); i >= 0 {
		return text[i+1:]
	}
	return text
}

func stripWhitespace(text []byte) []byte {
	out := make([]byte, 0, len(text))
	for _, c := range text {
		switch c {
		case ' ', '\t', '\r', '\n', '\v', '\f':
			continue
		}
		out = append(out, c)
	}
	return out
}

func isBase64Alphabet(text []byte) bool {
	padding := false
	for _, c := range text {
		switch {
		case c == '=':
			padding = true
		case padding:
			// data after padding
			return false
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// decodeBase64 picks the std or URL alphabet and padded or raw form from the text itself.
func decodeBase64(text []byte) ([]byte, error) {
	enc := base64.StdEncoding
	if bytes.ContainsAny(text, "-_") {
		enc = base64.URLEncoding
	}
	if !bytes.HasSuffix(text, []byte("=")) && len(text)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}

	out := make([]byte, enc.DecodedLen(len(text)))
	n, err := enc.Decode(out, text)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
