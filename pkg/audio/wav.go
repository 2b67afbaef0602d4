package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical 44-byte header produced by
// [EncodeWAVHeader]. Parsed headers may be longer when extra chunks precede
// the data chunk.
const wavHeaderSize = 44

// ErrNotWAV is returned by [ParseWAVHeader] when the input does not start
// with a RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// WAVInfo is the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	// Format is the PCM layout declared by the "fmt " sub-chunk.
	Format Format

	// DataOffset is the byte offset of the first PCM sample. Zero when the
	// header chunk ends exactly at the data chunk and no samples were included.
	DataOffset int
}

// ParseWAVHeader scans the RIFF/WAVE container in b and returns the PCM
// format from the "fmt " sub-chunk together with the offset of the first
// sample. Walking the chunk list is required because synthesizers emit
// fmt chunks of varying size, so a hardcoded 44-byte offset is not safe.
//
// b must contain at least the complete header up to and including the data
// chunk id; sample bytes after the data chunk header are not required.
func ParseWAVHeader(b []byte) (WAVInfo, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	var info WAVInfo
	foundFmt := false

	// Walk chunks starting immediately after the 12-byte RIFF/WAVE preamble.
	offset := 12
	for offset+8 <= len(b) {
		chunkID := string(b[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(b) {
				return WAVInfo{}, fmt.Errorf("audio: fmt chunk truncated (%d bytes)", chunkSize)
			}
			fmtData := b[offset+8:]
			info.Format.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.Format.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			return info, nil
		}

		// Chunks are word-aligned: pad by one byte when the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: missing data chunk")
}

// EncodeWAVHeader builds a canonical 44-byte RIFF/WAVE header for dataLen
// bytes of PCM in the given format. Synthesizer adapters prepend it to raw
// PCM so every stream opens with a self-describing first chunk, and tests use
// it to fabricate valid streams.
func EncodeWAVHeader(f Format, dataLen int) []byte {
	h := make([]byte, wavHeaderSize)
	byteRate := f.SampleRate * f.BytesPerFrame()

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
