package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavPCMFormat = 1

// EncodeWAV wraps 16-bit mono PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	byteRate := SampleRate * Channels * BytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(Channels*BytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(BitDepth))

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV returns the PCM payload of a WAV file. Only 16-bit PCM in the
// playback format is accepted.
func DecodeWAV(data []byte) ([]byte, error) {
	if !IsWAV(data) {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidAudioFormat)
	}

	var sawFormat bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Some writers leave the data size at zero or too large; take the rest.
			if id == "data" && sawFormat {
				return alignPCM(data[body:]), nil
			}
			return nil, fmt.Errorf("%w: truncated %q chunk", ErrInvalidAudioFormat, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidAudioFormat)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != wavPCMFormat || channels != Channels || rate != SampleRate || bits != BitDepth {
				return nil, fmt.Errorf("%w: got format=%d channels=%d rate=%d bits=%d",
					ErrInvalidAudioFormat, format, channels, rate, bits)
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, fmt.Errorf("%w: data before fmt chunk", ErrInvalidAudioFormat)
			}
			return alignPCM(data[body : body+size]), nil
		}

		// Chunks are word aligned
		pos = body + size + size%2
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrInvalidAudioFormat)
}

func alignPCM(pcm []byte) []byte {
	return pcm[:len(pcm)-len(pcm)%BytesPerSample]
}
