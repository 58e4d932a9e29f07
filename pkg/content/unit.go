package content

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies which variant of a Unit is populated.
type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindStructured Kind = "structured"
)

// Unit is a single content element of a structured message. Exactly one
// variant (text, image, structured) is populated, selected by Kind.
type Unit struct {
	Kind Kind `json:"type"`

	Text string `json:"text,omitempty"`

	ImageRef  string `json:"imageRef,omitempty"`
	ImageData []byte `json:"imageData,omitempty"`
	MediaType string `json:"mediaType,omitempty"`

	Structured map[string]interface{} `json:"structured,omitempty"`

	// Metadata stores arbitrary per-unit metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationError reports a Unit that violates the exactly-one-variant rule.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid content unit: %s", e.Reason)
}

func NewTextUnit(text string) Unit {
	return Unit{Kind: KindText, Text: text}
}

func NewImageUnit(ref string) Unit {
	return Unit{Kind: KindImage, ImageRef: ref}
}

func NewStructuredUnit(data map[string]interface{}) Unit {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Unit{Kind: KindStructured, Structured: data}
}

// WithMetadata returns a copy of the unit with the given metadata keys set.
func (u Unit) WithMetadata(kvs map[string]interface{}) Unit {
	if len(kvs) == 0 {
		return u
	}
	cloned := make(map[string]interface{}, len(u.Metadata)+len(kvs))
	for k, v := range u.Metadata {
		cloned[k] = v
	}
	for k, v := range kvs {
		cloned[k] = v
	}
	u.Metadata = cloned
	return u
}

// Validate checks that exactly one variant is populated for the declared Kind.
func (u Unit) Validate() error {
	switch u.Kind {
	case KindText:
		if u.ImageRef != "" || len(u.ImageData) > 0 || u.MediaType != "" || u.Structured != nil {
			return &ValidationError{Reason: "text unit carries non-text payload"}
		}
	case KindImage:
		if u.Text != "" || u.Structured != nil {
			return &ValidationError{Reason: "image unit carries non-image payload"}
		}
		if u.ImageRef == "" && len(u.ImageData) == 0 {
			return &ValidationError{Reason: "image unit has neither reference nor inline data"}
		}
	case KindStructured:
		if u.Text != "" || u.ImageRef != "" || len(u.ImageData) > 0 || u.MediaType != "" {
			return &ValidationError{Reason: "structured unit carries non-structured payload"}
		}
		if u.Structured == nil {
			return &ValidationError{Reason: "structured unit has no data"}
		}
	case "":
		return &ValidationError{Reason: "no variant populated"}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown kind %q", u.Kind)}
	}
	return nil
}

// String renders the unit the way it is shown in display text.
func (u Unit) String() string {
	switch u.Kind {
	case KindText:
		return u.Text
	case KindImage:
		ref := u.ImageRef
		if ref == "" {
			ref = fmt.Sprintf("<%d bytes inline>", len(u.ImageData))
		}
		return fmt.Sprintf("[image: %s]", ref)
	case KindStructured:
		data, err := json.Marshal(u.Structured)
		if err != nil {
			return "[json: <unserializable>]"
		}
		return fmt.Sprintf("[json: %s]", data)
	}
	return ""
}

const maxInlineImageSize = 20 * 1024 * 1024

// NewImageUnitFromFile builds an image unit from a URL or a local file path.
// URLs are kept as references; local files are read inline with their media
// type derived from the extension.
func NewImageUnitFromFile(path string) (Unit, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return Unit{Kind: KindImage, ImageRef: path}, nil
	}
	return newImageUnitFromLocalFile(path)
}

func newImageUnitFromLocalFile(path string) (Unit, error) {
	file, err := os.Open(path)
	if err != nil {
		return Unit{}, errors.Wrap(err, "failed to open image file")
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	fileInfo, err := file.Stat()
	if err != nil {
		return Unit{}, errors.Wrap(err, "failed to stat image file")
	}
	if fileInfo.Size() > maxInlineImageSize {
		return Unit{}, errors.Errorf("image size exceeds 20MB limit: %s", path)
	}

	mediaType := mediaTypeFromExtension(filepath.Ext(path))
	if mediaType == "" {
		return Unit{}, errors.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return Unit{}, errors.Wrap(err, "failed to read image file")
	}

	return Unit{
		Kind:      KindImage,
		ImageRef:  fileInfo.Name(),
		ImageData: data,
		MediaType: mediaType,
	}, nil
}

func mediaTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}
