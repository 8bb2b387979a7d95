package tabexport

import (
	"bytes"
	"errors"
	"io"
)

// Sentinel errors for programmatic error handling.
var (
	ErrUnknownFormat   = errors.New("unknown format")
	ErrEncodingFailure = errors.New("encoding failure")
)

// Format identifiers of the built-in encoders.
const (
	CSV   = "csv"
	Excel = "excel"
	JSON  = "json"
	XML   = "xml"
	PDF   = "pdf"
	HTML  = "html"
)

var builtin = []string{CSV, Excel, JSON, XML, PDF, HTML}

// Formats returns the identifiers of all built-in encoders in registration order.
func Formats() []string {
	out := make([]string, len(builtin))
	copy(out, builtin)
	return out
}

// Descriptor is the static identity of an encoder.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mime_type"`
	Extension   string `json:"extension"`
	Icon        string `json:"icon"`
	// Streaming reports whether Stream writes incrementally rather than
	// rendering the whole document up front.
	Streaming bool `json:"streaming"`
}

// Encoder renders a Dataset into one file format.
//
// Export returns a complete, independently valid file. Stream writes the same
// document to w; encoders without a true incremental implementation render
// with Export and write the result in one call.
type Encoder interface {
	Descriptor() Descriptor
	DefaultOptions() Options
	Fields() []Field
	Export(ds *Dataset, opts Options) ([]byte, error)
	Stream(w io.Writer, ds *Dataset, opts Options) error
}

// Write encodes ds with enc and writes it to w, streaming when the encoder
// supports it.
func Write(w io.Writer, enc Encoder, ds *Dataset, opts Options) error {
	if enc.Descriptor().Streaming {
		return enc.Stream(w, ds, opts)
	}
	data, err := enc.Export(ds, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Marshal encodes ds with enc and returns the bytes.
func Marshal(enc Encoder, ds *Dataset, opts Options) ([]byte, error) {
	if !enc.Descriptor().Streaming {
		return enc.Export(ds, opts)
	}
	var buf bytes.Buffer
	if err := enc.Stream(&buf, ds, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeExport is the Stream fallback for buffered encoders.
func writeExport(w io.Writer, enc Encoder, ds *Dataset, opts Options) error {
	data, err := enc.Export(ds, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
