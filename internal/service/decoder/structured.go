package decoder

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/pkg/errors"
)

// parseStructured reads raw as multipart/form-data using the boundary declared
// in contentType. The boundary is returned even when parsing fails so the raw
// scan can reuse it. Parts read before a failure are returned with the error.
func parseStructured(raw []byte, contentType string) ([]part, string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, "", errors.Wrapf(err, "invalid content type %q", contentType)
	}
	boundary := params["boundary"]
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, boundary, errors.Errorf("content type %s is not multipart", mediaType)
	}
	if boundary == "" {
		return nil, "", errors.New("multipart content type without boundary")
	}

	var parts []part
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parts, boundary, errors.Wrap(err, "failed to read multipart section")
		}

		data, err := io.ReadAll(p)
		p.Close()
		if err != nil {
			return parts, boundary, errors.Wrapf(err, "failed to read part %q", p.FormName())
		}

		parts = append(parts, part{
			name:        p.FormName(),
			filename:    p.FileName(),
			contentType: p.Header.Get("Content-Type"),
			data:        data,
		})
	}
	return parts, boundary, nil
}
