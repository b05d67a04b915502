// Package avi writes MJPEG video into a RIFF/AVI container. Frames are
// appended incrementally as 00dc chunks; the header carries placeholder
// fields that Finalize patches in place once the frame count and payload
// size are known. A small parser (reader.go) reads the produced files back
// for verification.
package avi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The header layout is fixed, so the byte offsets of every placeholder field
// are constants. They are kept next to writeHeader so the two stay in sync.
const (
	// HeaderSize is the byte length of everything before the first frame
	// chunk: RIFF header, hdrl list, and the opening of the movi list.
	HeaderSize = 224

	// offRIFFSize is the RIFF chunk size field (file length minus 8)
	offRIFFSize = 4
	// offTotalFrames is avih dwTotalFrames
	offTotalFrames = 48
	// offStreamLength is strh dwLength, the stream length in frames
	offStreamLength = 140
	// offMoviSize is the movi LIST size field
	offMoviSize = 216
	// moviListPos is the position of the "movi" fourcc; idx1 offsets are
	// relative to this position
	moviListPos = 220

	// avihFlagHasIndex marks the file as carrying an idx1 chunk
	avihFlagHasIndex = 0x00000010
	// indexFlagKeyframe marks an index entry as a keyframe; every MJPEG
	// frame is independently decodable
	indexFlagKeyframe = 0x00000010

	// frameChunkOverhead is the fourcc plus size field of one 00dc chunk
	frameChunkOverhead = 8
	// indexEntrySize is the byte length of one idx1 entry
	indexEntrySize = 16

	// flushThresholdPercent triggers a staging buffer flush once the write
	// position passes this fraction of capacity
	flushThresholdPercent = 70
)

var (
	// ErrBufferOverflow means a frame chunk cannot fit the staging buffer
	// even after a flush; the capacity was sized too small for the frame
	ErrBufferOverflow = errors.New("staging buffer overflow")
	// ErrIndexFull means the session reached its frame capacity
	ErrIndexFull = errors.New("frame index full")
	// ErrFinalized means the writer was used after Finalize
	ErrFinalized = errors.New("writer already finalized")
)

// IndexEntry locates one frame chunk relative to the movi list
type IndexEntry struct {
	Offset uint32
	Size   uint32
}

// WriterConfig describes the stream and the session bounds
type WriterConfig struct {
	Width     int
	Height    int
	FrameRate int
	// MaxFrames bounds the index; 0 leaves the index unbounded
	MaxFrames int
	// StagingBytes enables the in-memory staging buffer when positive;
	// zero writes every chunk directly to storage
	StagingBytes int
}

// Writer incrementally builds an AVI/MJPEG file
type Writer struct {
	out    io.WriteSeeker
	config WriterConfig

	frameCount uint32
	moviBytes  uint32 // frame chunk bytes written after the movi fourcc
	index      []IndexEntry

	staging       []byte
	writePos      int
	headerWritten bool
	finalized     bool
}

// NewWriter prepares the container header. In direct mode the header goes to
// storage immediately; in staged mode it occupies the front of the staging
// buffer until the first flush.
func NewWriter(out io.WriteSeeker, config WriterConfig) (*Writer, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", config.Width, config.Height)
	}
	if config.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", config.FrameRate)
	}
	if config.StagingBytes > 0 && config.StagingBytes <= HeaderSize {
		return nil, fmt.Errorf("staging buffer of %d bytes cannot hold the %d byte header",
			config.StagingBytes, HeaderSize)
	}

	w := &Writer{
		out:    out,
		config: config,
	}
	if config.MaxFrames > 0 {
		w.index = make([]IndexEntry, 0, config.MaxFrames)
	}

	header := w.buildHeader()

	if config.StagingBytes > 0 {
		w.staging = make([]byte, config.StagingBytes)
		copy(w.staging, header)
		w.writePos = HeaderSize
		return w, nil
	}

	if _, err := out.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write container header: %w", err)
	}
	w.headerWritten = true
	return w, nil
}

// buildHeader serializes the fixed-size header with zeroed placeholders
func (w *Writer) buildHeader() []byte {
	buf := make([]byte, 0, HeaderSize)
	width := uint32(w.config.Width)
	height := uint32(w.config.Height)
	fps := uint32(w.config.FrameRate)

	put4 := func(s string) { buf = append(buf, s...) }
	putU32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	putU16 := func(v uint16) { buf = binary.LittleEndian.AppendUint16(buf, v) }

	put4("RIFF")
	putU32(0) // riff size, patched by Finalize
	put4("AVI ")

	// hdrl list: avih plus one strl list
	put4("LIST")
	putU32(4 + (8 + 56) + (8 + 116))
	put4("hdrl")

	put4("avih")
	putU32(56)
	putU32(1_000_000 / fps) // microseconds per frame
	putU32(0)               // max bytes per second
	putU32(0)               // padding granularity
	putU32(avihFlagHasIndex)
	putU32(0) // total frames, patched by Finalize
	putU32(0) // initial frames
	putU32(1) // stream count
	putU32(0) // suggested buffer size
	putU32(width)
	putU32(height)
	putU32(0) // reserved
	putU32(0)
	putU32(0)
	putU32(0)

	// strl list: strh plus strf
	put4("LIST")
	putU32(4 + (8 + 56) + (8 + 40))
	put4("strl")

	put4("strh")
	putU32(56)
	put4("vids")
	put4("MJPG")
	putU32(0)     // flags
	putU16(0)     // priority
	putU16(0)     // language
	putU32(0)     // initial frames
	putU32(1)     // scale
	putU32(fps)   // rate; rate/scale = frames per second
	putU32(0)     // start
	putU32(0)     // length in frames, patched by Finalize
	putU32(0)     // suggested buffer size
	putU32(0)     // quality, driver default
	putU32(0)     // sample size, varies per frame
	putU32(0)     // rcFrame
	putU32(0)

	put4("strf")
	putU32(40)
	putU32(40) // BITMAPINFOHEADER size
	putU32(width)
	putU32(height)
	putU16(1)  // planes
	putU16(24) // bits per pixel
	put4("MJPG")
	putU32(width * height * 3) // image size
	putU32(0)                  // x pixels per meter
	putU32(0)                  // y pixels per meter
	putU32(0)                  // colors used
	putU32(0)                  // colors important

	put4("LIST")
	putU32(0) // movi size, patched by Finalize
	put4("movi")

	return buf
}

// WriteFrame appends one JPEG frame as a 00dc chunk, padded to an even byte
// boundary, and records its index entry.
func (w *Writer) WriteFrame(jpeg []byte) error {
	if w.finalized {
		return ErrFinalized
	}
	if w.config.MaxFrames > 0 && int(w.frameCount) >= w.config.MaxFrames {
		return ErrIndexFull
	}

	size := uint32(len(jpeg))
	pad := size % 2
	chunkLen := frameChunkOverhead + int(size+pad)

	var chunk []byte
	if w.staging != nil {
		buf, err := w.stagingSpan(chunkLen)
		if err != nil {
			return err
		}
		chunk = buf[:0]
	} else {
		chunk = make([]byte, 0, chunkLen)
	}

	chunk = append(chunk, "00dc"...)
	chunk = binary.LittleEndian.AppendUint32(chunk, size)
	chunk = append(chunk, jpeg...)
	if pad != 0 {
		chunk = append(chunk, 0)
	}

	if w.staging != nil {
		w.writePos += chunkLen
	} else {
		if _, err := w.out.Write(chunk); err != nil {
			return fmt.Errorf("failed to write frame chunk: %w", err)
		}
	}

	// Offsets are measured from the movi fourcc; the first chunk sits
	// right after it.
	w.index = append(w.index, IndexEntry{
		Offset: 4 + w.moviBytes,
		Size:   size,
	})
	w.moviBytes += uint32(chunkLen)
	w.frameCount++

	if w.staging != nil && w.writePos*100 >= len(w.staging)*flushThresholdPercent {
		if err := w.flush(); err != nil {
			return err
		}
	}
	return nil
}

// stagingSpan reserves chunkLen bytes in the staging buffer, flushing first
// when the chunk does not fit the remaining space
func (w *Writer) stagingSpan(chunkLen int) ([]byte, error) {
	if chunkLen > len(w.staging)-HeaderSize {
		// The buffer can never hold this chunk: capacity sizing defect.
		return nil, ErrBufferOverflow
	}
	if w.writePos+chunkLen > len(w.staging) {
		if err := w.flush(); err != nil {
			return nil, err
		}
	}
	return w.staging[w.writePos : w.writePos : w.writePos+chunkLen], nil
}

// flush drains the staging buffer to storage. The header region is included
// exactly once, on the first flush.
func (w *Writer) flush() error {
	start := HeaderSize
	if !w.headerWritten {
		start = 0
	}
	if w.writePos > start || !w.headerWritten {
		if _, err := w.out.Write(w.staging[start:w.writePos]); err != nil {
			return fmt.Errorf("failed to flush staging buffer: %w", err)
		}
	}
	w.headerWritten = true
	w.writePos = HeaderSize
	return nil
}

// Finalize appends the idx1 chunk and patches the placeholder header fields.
// It must be called exactly once, after the last frame. On failure the file
// is left in place with whatever was written.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true

	if w.staging != nil {
		if err := w.flush(); err != nil {
			return err
		}
	}

	idx := make([]byte, 0, 8+len(w.index)*indexEntrySize)
	idx = append(idx, "idx1"...)
	idx = binary.LittleEndian.AppendUint32(idx, uint32(len(w.index)*indexEntrySize))
	for _, entry := range w.index {
		idx = append(idx, "00dc"...)
		idx = binary.LittleEndian.AppendUint32(idx, indexFlagKeyframe)
		idx = binary.LittleEndian.AppendUint32(idx, entry.Offset)
		idx = binary.LittleEndian.AppendUint32(idx, entry.Size)
	}
	if _, err := w.out.Write(idx); err != nil {
		return fmt.Errorf("failed to write index chunk: %w", err)
	}

	end, err := w.out.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to measure file length: %w", err)
	}

	patches := []struct {
		offset int64
		value  uint32
	}{
		{offRIFFSize, uint32(end - 8)},
		{offTotalFrames, w.frameCount},
		{offStreamLength, w.frameCount},
		{offMoviSize, 4 + w.moviBytes},
	}
	var field [4]byte
	for _, p := range patches {
		if _, err := w.out.Seek(p.offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to header field at %d: %w", p.offset, err)
		}
		binary.LittleEndian.PutUint32(field[:], p.value)
		if _, err := w.out.Write(field[:]); err != nil {
			return fmt.Errorf("failed to patch header field at %d: %w", p.offset, err)
		}
	}

	if _, err := w.out.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to restore file position: %w", err)
	}
	return nil
}

// FrameCount returns the number of frames written so far
func (w *Writer) FrameCount() uint32 {
	return w.frameCount
}

// MoviBytes returns the frame chunk bytes written after the movi fourcc
func (w *Writer) MoviBytes() uint32 {
	return w.moviBytes
}

// Index returns the accumulated index entries
func (w *Writer) Index() []IndexEntry {
	return w.index
}
