package avi

import (
	"encoding/binary"
	"fmt"
)

// File is the parsed view of an AVI container, limited to the fields the
// node writes. The parser walks the chunk structure independently of the
// writer's layout constants so tests can cross-check the two.
type File struct {
	RIFFSize     uint32
	TotalFrames  uint32 // avih dwTotalFrames
	StreamLength uint32 // strh dwLength
	Width        uint32
	Height       uint32
	FrameRate    uint32
	MoviSize     uint32
	Frames       []ParsedFrame
	Index        []IndexEntry
}

// ParsedFrame is one 00dc chunk found in the movi list
type ParsedFrame struct {
	// Offset is relative to the movi fourcc, matching idx1 entries
	Offset uint32
	Size   uint32
	Data   []byte
}

// Parse reads an AVI file produced by the Writer and returns its structure
func Parse(data []byte) (*File, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("file too short for a RIFF header: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("missing RIFF fourcc")
	}
	if string(data[8:12]) != "AVI " {
		return nil, fmt.Errorf("missing AVI form type")
	}

	f := &File{
		RIFFSize: binary.LittleEndian.Uint32(data[4:8]),
	}

	pos := 12
	for pos+8 <= len(data) {
		fourcc := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		if body+int(size) > len(data) {
			return nil, fmt.Errorf("chunk %q at %d overruns file", fourcc, pos)
		}

		switch fourcc {
		case "LIST":
			if size < 4 {
				return nil, fmt.Errorf("LIST chunk at %d too short", pos)
			}
			listType := string(data[body : body+4])
			switch listType {
			case "hdrl":
				if err := f.parseHeaderList(data[body+4 : body+int(size)]); err != nil {
					return nil, err
				}
			case "movi":
				f.MoviSize = size
				if err := f.parseMovi(data[body:body+int(size)], size); err != nil {
					return nil, err
				}
			}
		case "idx1":
			if err := f.parseIndex(data[body : body+int(size)]); err != nil {
				return nil, err
			}
		}

		pos = body + int(size)
		if size%2 != 0 {
			pos++
		}
	}

	return f, nil
}

// parseHeaderList extracts avih and strh/strf fields
func (f *File) parseHeaderList(data []byte) error {
	pos := 0
	for pos+8 <= len(data) {
		fourcc := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		if body+int(size) > len(data) {
			return fmt.Errorf("header chunk %q overruns hdrl list", fourcc)
		}
		chunk := data[body : body+int(size)]

		switch fourcc {
		case "avih":
			if size < 56 {
				return fmt.Errorf("avih chunk too short: %d bytes", size)
			}
			f.TotalFrames = binary.LittleEndian.Uint32(chunk[16:20])
			f.Width = binary.LittleEndian.Uint32(chunk[32:36])
			f.Height = binary.LittleEndian.Uint32(chunk[36:40])
		case "LIST":
			if size >= 4 && string(chunk[0:4]) == "strl" {
				if err := f.parseStreamList(chunk[4:]); err != nil {
					return err
				}
			}
		}

		pos = body + int(size)
		if size%2 != 0 {
			pos++
		}
	}
	return nil
}

// parseStreamList extracts the video stream header fields
func (f *File) parseStreamList(data []byte) error {
	pos := 0
	for pos+8 <= len(data) {
		fourcc := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		if body+int(size) > len(data) {
			return fmt.Errorf("stream chunk %q overruns strl list", fourcc)
		}
		chunk := data[body : body+int(size)]

		if fourcc == "strh" {
			if size < 56 {
				return fmt.Errorf("strh chunk too short: %d bytes", size)
			}
			if string(chunk[0:4]) != "vids" {
				return fmt.Errorf("unexpected stream type %q", chunk[0:4])
			}
			if string(chunk[4:8]) != "MJPG" {
				return fmt.Errorf("unexpected stream handler %q", chunk[4:8])
			}
			scale := binary.LittleEndian.Uint32(chunk[20:24])
			rate := binary.LittleEndian.Uint32(chunk[24:28])
			if scale != 0 {
				f.FrameRate = rate / scale
			}
			f.StreamLength = binary.LittleEndian.Uint32(chunk[32:36])
		}

		pos = body + int(size)
		if size%2 != 0 {
			pos++
		}
	}
	return nil
}

// parseMovi walks the frame chunks. data starts at the movi fourcc.
func (f *File) parseMovi(data []byte, size uint32) error {
	pos := 4 // skip the movi fourcc
	for pos+8 <= int(size) {
		fourcc := string(data[pos : pos+4])
		chunkSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		if body+int(chunkSize) > len(data) {
			return fmt.Errorf("frame chunk at movi offset %d overruns list", pos)
		}
		if fourcc != "00dc" {
			return fmt.Errorf("unexpected chunk %q in movi list", fourcc)
		}

		f.Frames = append(f.Frames, ParsedFrame{
			Offset: uint32(pos),
			Size:   chunkSize,
			Data:   data[body : body+int(chunkSize)],
		})

		pos = body + int(chunkSize)
		if chunkSize%2 != 0 {
			pos++
		}
	}
	return nil
}

// parseIndex reads the idx1 entries
func (f *File) parseIndex(data []byte) error {
	if len(data)%indexEntrySize != 0 {
		return fmt.Errorf("idx1 length %d is not a multiple of %d", len(data), indexEntrySize)
	}
	for pos := 0; pos < len(data); pos += indexEntrySize {
		if string(data[pos:pos+4]) != "00dc" {
			return fmt.Errorf("unexpected index fourcc %q", data[pos:pos+4])
		}
		flags := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		if flags&indexFlagKeyframe == 0 {
			return fmt.Errorf("index entry at %d missing keyframe flag", pos)
		}
		f.Index = append(f.Index, IndexEntry{
			Offset: binary.LittleEndian.Uint32(data[pos+8 : pos+12]),
			Size:   binary.LittleEndian.Uint32(data[pos+12 : pos+16]),
		})
	}
	return nil
}
