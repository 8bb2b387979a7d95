// Package tabexport renders form submissions into downloadable files.
//
// Every encoder consumes the same [Dataset]: ordered headers, rows aligned to
// them by position, and [Meta] describing the source form. Built-in encoders
// cover CSV, Excel (xlsx), JSON, XML, PDF and HTML. A [Registry] maps format
// ids to encoders; [NewDefaultRegistry] builds one from [Settings].
//
// # Encoders
//
// An [Encoder] reports a [Descriptor], declares its user-facing options as
// [Field] values with defaults, and renders either in one piece with Export or
// incrementally with Stream:
//
//	enc, err := reg.Lookup(tabexport.CSV)
//	opts := tabexport.ResolveOptions(enc, submitted)
//	err = tabexport.Write(w, enc, ds, opts)
//
// CSV, JSON and XML stream row by row and flush the writer between batches.
// Excel, PDF and HTML render the whole document before writing it.
//
// # Values
//
// Cells are converted to text by [SanitizeValue]: slices are joined with
// ", ", composite values become empty, and legacy single-byte text is decoded
// to UTF-8. Rows shorter than the headers are padded; extra cells are dropped.
//
// # CSV
//
// Fields are quoted the way spreadsheet applications expect, and any cell
// starting with =, +, -, @, TAB or CR is prefixed with a single quote so it
// is not evaluated as a formula.
//
// # PDF
//
// [PDFEncoder] delegates drawing to a [PDFRenderer]. [RichPDFRenderer] writes
// a real PDF; [HTMLFallbackRenderer] writes a print-ready HTML page. Both are
// delivered as application/pdf.
//
// # Streaming
//
// Wrap a response writer in a [Sink] to flush it at batch boundaries and to
// run a [MemoryGuard] after each flush.
//
// # Errors
//
// The package exports sentinel errors for programmatic handling:
//
//   - [ErrUnknownFormat] — no encoder registered for a format id
//   - [ErrEncodingFailure] — an encoder could not produce its output
package tabexport
