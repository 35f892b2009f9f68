// Package indexer issues unique, time-sortable artifact names for annotated frames.
package indexer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"

	"objectdetection/internal/model"
)

const (
	timestampLayout = "20060102T150405.000"
	extension       = ".jpg"
	maxPrefixLength = 32
)

var prefixSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Indexer builds names of the form
//
//	<utc timestamp>_<replica prefix>_<counter>_<resolution>.jpg
//
// The counter is process wide and never reset, so names are unique for the
// process lifetime; the replica prefix separates processes sharing a sink.
type Indexer struct {
	prefix  string
	counter atomic.Uint64
	now     func() time.Time
}

// New creates an Indexer for the given replica id. An empty id is replaced by
// a random token.
func New(replicaID string) *Indexer {
	return &Indexer{
		prefix: sanitizePrefix(replicaID),
		now:    time.Now,
	}
}

// Prefix returns the replica prefix embedded in every name.
func (ix *Indexer) Prefix() string {
	return ix.prefix
}

// Next returns a name that was never returned before by this Indexer.
func (ix *Indexer) Next(res model.Resolution) string {
	n := ix.counter.Add(1)
	ts := ix.now().UTC().Format(timestampLayout)
	return fmt.Sprintf("%s_%s_%010d_%s%s", ts, ix.prefix, n, res, extension)
}

// Issued returns how many names have been handed out.
func (ix *Indexer) Issued() uint64 {
	return ix.counter.Load()
}

// Name is a parsed indexed filename.
type Name struct {
	Timestamp  time.Time
	Prefix     string
	Counter    uint64
	Resolution model.Resolution
}

// Parse splits an indexed filename back into its parts.
func Parse(filename string) (Name, error) {
	base := strings.TrimSuffix(filename, extension)
	if base == filename {
		return Name{}, fmt.Errorf("not an indexed filename: %s", filename)
	}

	parts := strings.Split(base, "_")
	if len(parts) != 4 {
		return Name{}, fmt.Errorf("not an indexed filename: %s", filename)
	}

	ts, err := time.Parse(timestampLayout, parts[0])
	if err != nil {
		return Name{}, fmt.Errorf("bad timestamp in %s: %w", filename, err)
	}
	counter, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("bad counter in %s: %w", filename, err)
	}
	res, err := model.ParseResolution(parts[3])
	if err != nil {
		return Name{}, err
	}

	return Name{Timestamp: ts, Prefix: parts[1], Counter: counter, Resolution: res}, nil
}

func sanitizePrefix(id string) string {
	p := strings.Trim(prefixSanitizer.ReplaceAllString(id, "-"), "-")
	if p == "" {
		token, err := uuid.NewV4()
		if err != nil {
			return strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		p = strings.ReplaceAll(token.String(), "-", "")[:8]
	}
	if len(p) > maxPrefixLength {
		p = p[len(p)-maxPrefixLength:]
	}
	return p
}
