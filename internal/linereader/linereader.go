// Package linereader splits a process output stream into text lines.
//
// Lines are emitted as they complete, so a long-running child's output reaches
// the log sink while it is still running. Bytes that are not valid text never
// stop the reader: they are replaced with U+FFFD and reported.
package linereader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultMaxLineBytes bounds how much unterminated output is buffered before
// it is emitted as a line of its own.
const DefaultMaxLineBytes = 64 * 1024

// Handler receives one line of text, without its line terminator.
type Handler func(text string)

// DecodeError describes a line that contained bytes which are not valid in
// the stream's encoding.
type DecodeError struct {
	Line     int    // 1-based line number within the stream
	Offset   int    // byte offset of the first invalid byte within the line, -1 if unknown
	Encoding string // encoding label, "utf-8" by default
}

func (e *DecodeError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("line %d: invalid %s", e.Line, e.Encoding)
	}
	return fmt.Sprintf("line %d: invalid %s at byte %d", e.Line, e.Encoding, e.Offset)
}

// Options configures a Reader.
type Options struct {
	// MaxLineBytes splits longer lines; 0 means DefaultMaxLineBytes.
	MaxLineBytes int

	// Encoding is a WHATWG encoding label ("gbk", "windows-1252", ...).
	// Empty means UTF-8.
	Encoding string

	// OnDecodeError is called for every line with invalid bytes.
	OnDecodeError func(*DecodeError)
}

// Reader converts a byte stream into lines.
type Reader struct {
	maxLine  int
	label    string
	decoder  *encoding.Decoder
	onDecode func(*DecodeError)
	line     int
}

// New creates a Reader. It fails only for an unknown encoding label.
func New(opts Options) (*Reader, error) {
	enc, err := Lookup(opts.Encoding)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		maxLine:  opts.MaxLineBytes,
		label:    "utf-8",
		onDecode: opts.OnDecodeError,
	}
	if r.maxLine <= 0 {
		r.maxLine = DefaultMaxLineBytes
	}
	if enc != nil {
		r.label = strings.ToLower(opts.Encoding)
		r.decoder = enc.NewDecoder()
	}
	return r, nil
}

// Lookup resolves an encoding label. UTF-8 (and the empty label) returns a
// nil Encoding: output is validated natively instead of transcoded.
func Lookup(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown output encoding %q: %w", label, err)
	}
	return enc, nil
}

// Lines returns how many lines have been emitted so far.
func (r *Reader) Lines() int { return r.line }

// Process reads src until EOF and calls emit for every line. A trailing line
// without a terminator is flushed at EOF. A read error other than io.EOF is
// returned after flushing what was buffered.
func (r *Reader) Process(src io.Reader, emit Handler) error {
	var lineBuf bytes.Buffer
	b := make([]byte, 4096)

	for {
		n, err := src.Read(b)
		if n > 0 {
			lineBuf.Write(b[:n])
			r.emitComplete(&lineBuf, emit)
		}
		if err != nil {
			if lineBuf.Len() > 0 {
				r.emit(lineBuf.Bytes(), emit)
				lineBuf.Reset()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// emitComplete emits every complete line in buf and leaves the remainder.
func (r *Reader) emitComplete(buf *bytes.Buffer, emit Handler) {
	for {
		data := buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if len(data) > r.maxLine {
				cut := r.cutPoint(data)
				r.emit(data[:cut], emit)
				buf.Next(cut)
				continue
			}
			return
		}
		if idx > r.maxLine {
			cut := r.cutPoint(data)
			r.emit(data[:cut], emit)
			buf.Next(cut)
			continue
		}
		r.emit(data[:idx], emit)
		buf.Next(idx + 1)
	}
}

// cutPoint returns where to split an overlong line in data without cutting a
// character in two.
func (r *Reader) cutPoint(data []byte) int {
	if r.decoder == nil {
		return splitPoint(data, r.maxLine)
	}
	// Short of EOF the decoder only consumes whole characters.
	r.decoder.Reset()
	src := data[:r.maxLine]
	var dst [1024]byte
	pos := 0
	for pos < len(src) {
		_, n, err := r.decoder.Transform(dst[:], src[pos:], false)
		pos += n
		if err != transform.ErrShortDst || n == 0 {
			break
		}
	}
	if pos == 0 {
		return r.maxLine
	}
	return pos
}

// splitPoint returns a cut position at or below limit that does not split a
// UTF-8 sequence, when one exists close enough.
func splitPoint(data []byte, limit int) int {
	for i := limit; i > 0 && i > limit-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			return i
		}
	}
	return limit
}

func (r *Reader) emit(raw []byte, emit Handler) {
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	r.line++
	emit(r.decode(raw))
}

func (r *Reader) decode(raw []byte) string {
	if r.decoder != nil {
		out, err := r.decoder.Bytes(raw)
		if err != nil {
			r.report(-1)
			return strings.ToValidUTF8(string(raw), "\uFFFD")
		}
		// Decoders replace invalid input instead of failing.
		if bytes.ContainsRune(out, utf8.RuneError) {
			r.report(-1)
		}
		return string(out)
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	r.report(firstInvalid(raw))
	return strings.ToValidUTF8(string(raw), "\uFFFD")
}

func (r *Reader) report(offset int) {
	if r.onDecode == nil {
		return
	}
	r.onDecode(&DecodeError{Line: r.line, Offset: offset, Encoding: r.label})
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		c, size := utf8.DecodeRune(b[i:])
		if c == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
