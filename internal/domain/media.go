package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaRefKind tells how a MediaRef points at a stored asset.
type MediaRefKind string

const (
	MediaByID     MediaRefKind = "id"
	MediaBySource MediaRefKind = "source"
)

// MediaRef references a media asset either by its id or by its source path.
type MediaRef struct {
	Kind  MediaRefKind
	Value string
}

func MediaRefByID(id string) MediaRef {
	return MediaRef{Kind: MediaByID, Value: strings.TrimSpace(id)}
}

func MediaRefBySource(src string) MediaRef {
	return MediaRef{Kind: MediaBySource, Value: strings.TrimSpace(src)}
}

// ParseMediaRef maps a raw request value to a MediaRef. UUIDs are ids,
// any other non-empty value is a source path or URL. Empty input yields nil.
func ParseMediaRef(raw string) *MediaRef {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var ref MediaRef
	if _, err := uuid.Parse(trimmed); err == nil {
		ref = MediaRefByID(trimmed)
	} else {
		ref = MediaRefBySource(trimmed)
	}
	return &ref
}

func (r MediaRef) String() string {
	return r.Value
}

func (r MediaRef) Validate() error {
	switch r.Kind {
	case MediaByID, MediaBySource:
	default:
		return fmt.Errorf("%w: invalid media reference kind %q", ErrValidation, r.Kind)
	}
	if r.Value == "" {
		return fmt.Errorf("%w: media reference is empty", ErrValidation)
	}
	return nil
}

// Media is a stored asset uploaded by the wider backend.
type Media struct {
	ID        string
	Src       string
	FileName  string
	MimeType  string
	Type      string
	CreatedAt time.Time
}
