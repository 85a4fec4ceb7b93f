package imagemeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rwcarlsen/goexif/tiff"

	"github.com/motionlive/motionlive-agent/internal/livephoto"
)

// Apple maker notes open with "Apple iOS\0", a version word and the byte
// order; the IFD follows at offset 14 and value offsets are relative to the
// start of the note.
var appleSignature = []byte("Apple iOS\x00")

const appleHeaderLen = 14

var ErrNoContentIdentifier = errors.New("no apple content identifier")

func appleMakerNote(contentID string) []byte {
	order := binary.BigEndian
	note := append([]byte{}, appleSignature...)
	note = append(note, 0x00, 0x01, 'M', 'M')
	value := append([]byte(contentID), 0)
	note, _ = appendIFD(note, order, []ifdEntry{{
		tag:   livephoto.MakerAppleContentIdentifier,
		typ:   typeASCII,
		count: uint32(len(value)),
		data:  value,
	}}, 0)
	return note
}

func parseAppleContentIdentifier(note []byte) (string, error) {
	if !bytes.HasPrefix(note, appleSignature) || len(note) < appleHeaderLen+2 {
		return "", ErrNoContentIdentifier
	}
	var order binary.ByteOrder
	switch string(note[12:14]) {
	case "MM":
		order = binary.BigEndian
	case "II":
		order = binary.LittleEndian
	default:
		return "", fmt.Errorf("apple maker note: unknown byte order %q", note[12:14])
	}
	dir, _, err := decodeDirAt(note, appleHeaderLen, order)
	if err != nil {
		return "", fmt.Errorf("apple maker note: %w", err)
	}
	for _, t := range dir.Tags {
		if t.Id == livephoto.MakerAppleContentIdentifier && t.Type == tiff.DTAscii {
			return string(bytes.TrimRight(t.Val, "\x00")), nil
		}
	}
	return "", ErrNoContentIdentifier
}
