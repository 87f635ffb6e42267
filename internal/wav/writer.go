// Package wav writes 16-bit PCM to RIFF/WAVE files.
//
// A [Writer] reserves a 44-byte header when a file is started, streams raw
// PCM after it as frames arrive, and fills in the header once the final size
// is known. At most one file is open per Writer.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

// MaxDataSize is the largest data chunk whose RIFF size still fits the 32-bit
// header field.
const MaxDataSize int64 = math.MaxUint32 - 36

var (
	// ErrIO wraps every file create, write, seek and close failure.
	ErrIO = errors.New("wav: i/o error")

	// ErrNotStarted is returned by Append and Finish when no file is open.
	ErrNotStarted = errors.New("wav: recording not started")

	// ErrAlreadyStarted is returned by Start when a file is already open.
	ErrAlreadyStarted = errors.New("wav: recording already started")

	// ErrOverflow is returned by Append under [PolicyStop] when the data
	// chunk would exceed the size limit. The file has been finalised.
	ErrOverflow = errors.New("wav: data size limit reached")

	// ErrFrameTooLarge is returned by Append when a single chunk of PCM is
	// larger than the per-file limit and so cannot fit in any file.
	ErrFrameTooLarge = errors.New("wav: frame exceeds data size limit")
)

// OverflowPolicy selects what happens when a file reaches its size limit.
type OverflowPolicy string

const (
	// PolicyRotate finalises the current file and continues in
	// "<name>.<n>.wav".
	PolicyRotate OverflowPolicy = "rotate"

	// PolicyStop finalises the current file and rejects further data.
	PolicyStop OverflowPolicy = "stop"
)

// Option configures a [Writer].
type Option func(*Writer)

// WithOverflowPolicy sets the overflow policy. Default: [PolicyRotate].
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(w *Writer) { w.policy = p }
}

// WithMaxDataSize lowers the per-file data limit. Values outside
// (0, MaxDataSize] are ignored.
func WithMaxDataSize(n int64) Option {
	return func(w *Writer) {
		if n > 0 && n <= MaxDataSize {
			w.limit = n
		}
	}
}

// Writer streams PCM into a WAV file. It is not safe for concurrent use.
type Writer struct {
	format audio.Format
	policy OverflowPolicy
	limit  int64

	f       *os.File
	base    string
	path    string
	segment int
	written int64
}

// NewWriter returns an idle Writer for PCM in the given format.
func NewWriter(format audio.Format, opts ...Option) *Writer {
	w := &Writer{
		format: format,
		policy: PolicyRotate,
		limit:  MaxDataSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Active reports whether a file is open.
func (w *Writer) Active() bool { return w.f != nil }

// Path is the file currently being written, or the last one finalised.
func (w *Writer) Path() string { return w.path }

// BytesWritten is the size of the data chunk of the current file.
func (w *Writer) BytesWritten() int64 { return w.written }

// Segment is the rotation index of the current file, 0 for the first.
func (w *Writer) Segment() int { return w.segment }

// Start creates (or truncates) path and reserves the header.
func (w *Writer) Start(path string) error {
	if w.f != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, w.path)
	}
	if err := w.open(path); err != nil {
		return err
	}
	w.base = path
	w.segment = 0
	return nil
}

func (w *Writer) open(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, path, err)
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return fmt.Errorf("%w: reserve header %s: %w", ErrIO, path, err)
	}
	w.f = f
	w.path = path
	w.written = 0
	return nil
}

// Append writes pcm verbatim after the data already in the file.
func (w *Writer) Append(pcm []byte) error {
	if w.f == nil {
		return ErrNotStarted
	}
	if int64(len(pcm)) > w.limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(pcm), w.limit)
	}
	if w.written+int64(len(pcm)) > w.limit {
		if err := w.overflow(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(pcm)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, w.path, err)
	}
	return nil
}

func (w *Writer) overflow() error {
	full := w.path
	size := w.written
	if err := w.Finish(); err != nil {
		return err
	}
	if w.policy == PolicyStop {
		return fmt.Errorf("%w: %s holds %d bytes", ErrOverflow, full, size)
	}
	w.segment++
	return w.open(SegmentPath(w.base, w.segment))
}

// Finish writes the header for the current data size and closes the file.
// The Writer is idle afterwards even when an error is returned.
func (w *Writer) Finish() error {
	if w.f == nil {
		return ErrNotStarted
	}
	f := w.f
	w.f = nil

	var errs []error
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, fmt.Errorf("seek: %w", err))
	} else if err := writeHeader(f, w.format, uint32(w.written)); err != nil {
		errs = append(errs, fmt.Errorf("write header: %w", err))
	}
	if err := f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: finish %s: %w", ErrIO, w.path, err)
	}
	return nil
}

// header is the on-disk layout of the 44-byte RIFF/WAVE header.
type header struct {
	RiffID        [4]byte
	RiffSize      uint32
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

func writeHeader(w io.Writer, format audio.Format, dataSize uint32) error {
	h := header{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      dataSize + 36,
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.ByteRate()),
		BlockAlign:    uint16(format.BlockAlign()),
		BitsPerSample: audio.BitsPerSample,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	return binary.Write(w, binary.LittleEndian, &h)
}

// SegmentPath names the n-th rotation of base: "rec.wav" becomes "rec.2.wav".
func SegmentPath(base string, n int) string {
	if n == 0 {
		return base
	}
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".wav"
	}
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(base, filepath.Ext(base)), n, ext)
}
