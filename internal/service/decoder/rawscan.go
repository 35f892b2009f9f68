package decoder

import (
	"bytes"
	"regexp"
)

var (
	nameParam     = regexp.MustCompile(`(?i)(?:^|[;\s])name="([^"]*)"`)
	filenameParam = regexp.MustCompile(`(?i)filename="([^"]*)"`)
	contentTypeHd = regexp.MustCompile(`(?i)content-type:\s*([^\r\n;]+)`)

	// markerParam finds section markers when no delimiter line can be trusted.
	markerParam = regexp.MustCompile(`(?i)(?:file)?name="([^"]+)"`)
)

// scanRaw recovers parts from a body that a strict multipart reader rejects:
// wrong or missing boundary in the header, missing closing delimiter, stray
// bytes between sections. The declared boundary is tried first, then the one
// named by the first line of the body.
func scanRaw(raw []byte, boundary string) []part {
	for _, b := range []string{boundary, sniffBoundary(raw)} {
		if b == "" {
			continue
		}
		delim := []byte("--" + b)
		if !bytes.Contains(raw, delim) {
			continue
		}
		if parts := splitSections(raw, delim); len(parts) > 0 {
			return parts
		}
	}
	return scanMarkers(raw)
}

// sniffBoundary returns the boundary named by a leading "--xyz" line.
func sniffBoundary(raw []byte) string {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte("--")) || len(line) < 3 {
		return ""
	}
	return string(bytes.TrimSpace(line[2:]))
}

func splitSections(raw []byte, delim []byte) []part {
	var parts []part
	sections := bytes.Split(raw, delim)
	// sections[0] is the preamble
	for _, section := range sections[1:] {
		if bytes.HasPrefix(section, []byte("--")) {
			break
		}
		section = bytes.TrimLeft(section, " \t")
		section = bytes.TrimPrefix(section, []byte("\r\n"))
		section = bytes.TrimPrefix(section, []byte("\n"))

		header, body, ok := splitHeader(section)
		if !ok {
			continue
		}
		p, ok := parseHeader(header)
		if !ok {
			continue
		}
		p.data = trimLineEnd(body)
		parts = append(parts, p)
	}
	return parts
}

// scanMarkers treats every name="..." occurrence as the start of a section.
// The payload runs from the blank line after the marker to the line holding
// the next marker.
func scanMarkers(raw []byte) []part {
	locs := markerParam.FindAllSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return nil
	}

	var parts []part
	for i := 0; i < len(locs); i++ {
		// filename="..." right after name="..." belongs to the same header
		if i > 0 && sameLine(raw, locs[i-1][1], locs[i][0]) {
			continue
		}

		end := len(raw)
		for j := i + 1; j < len(locs); j++ {
			if !sameLine(raw, locs[i][1], locs[j][0]) {
				end = lineStart(raw, locs[j][0])
				break
			}
		}

		lineBegin := lineStart(raw, locs[i][0])
		header, body, ok := splitHeader(raw[lineBegin:end])
		if !ok {
			continue
		}
		p, ok := parseHeader(header)
		if !ok {
			continue
		}
		p.data = trimLineEnd(body)
		parts = append(parts, p)
	}
	return parts
}

// splitHeader splits a section at its first blank line.
func splitHeader(section []byte) (header, body []byte, ok bool) {
	if i := bytes.Index(section, []byte("\r\n\r\n")); i >= 0 {
		return section[:i], section[i+4:], true
	}
	if i := bytes.Index(section, []byte("\n\n")); i >= 0 {
		return section[:i], section[i+2:], true
	}
	return nil, nil, false
}

func parseHeader(header []byte) (part, bool) {
	var p part
	if m := nameParam.FindSubmatch(header); m != nil {
		p.name = string(m[1])
	}
	if m := filenameParam.FindSubmatch(header); m != nil {
		p.filename = string(m[1])
	}
	if m := contentTypeHd.FindSubmatch(header); m != nil {
		p.contentType = string(bytes.TrimSpace(m[1]))
	}
	if p.name == "" && p.filename == "" {
		return part{}, false
	}
	return p, true
}

func lineStart(raw []byte, pos int) int {
	return bytes.LastIndexByte(raw[:pos], '\n') + 1
}

func sameLine(raw []byte, from, to int) bool {
	if from > to {
		return false
	}
	return bytes.IndexByte(raw[from:to], '\n') < 0
}
