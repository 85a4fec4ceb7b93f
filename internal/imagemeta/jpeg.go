package imagemeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1

	// markerScan tags the entropy-coded remainder kept verbatim after SOS.
	markerScan = 0x00

	maxSegmentPayload = 0xFFFF - 2
)

var (
	ErrNotJPEG      = errors.New("not a jpeg")
	ErrEXIFTooLarge = errors.New("exif block exceeds one APP1 segment")

	exifHeader = []byte("Exif\x00\x00")
)

type segment struct {
	marker byte
	data   []byte
}

func (s segment) isEXIF() bool {
	return s.marker == markerAPP1 && bytes.HasPrefix(s.data, exifHeader)
}

// parseSegments splits a JPEG into marker segments up to the first scan.
// Everything from the scan on is kept as one opaque segment.
func parseSegments(data []byte) ([]segment, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, ErrNotJPEG
	}
	segs := []segment{{marker: markerSOI}}

	i := 2
	for i < len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("expected marker at byte %d, found 0x%02X", i, data[i])
		}
		for i < len(data) && data[i] == 0xFF {
			i++
		}
		if i >= len(data) {
			break
		}
		marker := data[i]
		i++

		if marker == markerEOI {
			segs = append(segs, segment{marker: marker})
			if i < len(data) {
				segs = append(segs, segment{marker: markerScan, data: data[i:]})
			}
			return segs, nil
		}

		if i+2 > len(data) {
			return nil, fmt.Errorf("truncated length for marker 0x%02X", marker)
		}
		n := int(binary.BigEndian.Uint16(data[i:i+2])) - 2
		i += 2
		if n < 0 || i+n > len(data) {
			return nil, fmt.Errorf("segment 0x%02X overruns the file", marker)
		}
		segs = append(segs, segment{marker: marker, data: data[i : i+n]})
		i += n

		if marker == markerSOS {
			segs = append(segs, segment{marker: markerScan, data: data[i:]})
			return segs, nil
		}
	}
	return segs, nil
}

func writeSegments(segs []segment) ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range segs {
		switch s.marker {
		case markerSOI, markerEOI:
			buf.Write([]byte{0xFF, s.marker})
		case markerScan:
			buf.Write(s.data)
		default:
			if len(s.data) > maxSegmentPayload {
				return nil, fmt.Errorf("segment 0x%02X: %d bytes: %w", s.marker, len(s.data), ErrEXIFTooLarge)
			}
			buf.Write([]byte{0xFF, s.marker})
			var length [2]byte
			binary.BigEndian.PutUint16(length[:], uint16(len(s.data)+2))
			buf.Write(length[:])
			buf.Write(s.data)
		}
	}
	return buf.Bytes(), nil
}
