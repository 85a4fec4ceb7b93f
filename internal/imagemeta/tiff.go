package imagemeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rwcarlsen/goexif/tiff"
)

const (
	tagExifIFDPointer = 0x8769
	tagMakerNote      = 0x927C

	typeASCII     = 2
	typeLong      = 4
	typeUndefined = 7
)

// ifdEntry is one directory entry to be written. Values of four bytes or
// less go in inline; larger new values go in data; existing out-of-line
// values stay where they are and keep their offset.
type ifdEntry struct {
	tag    uint16
	typ    uint16
	count  uint32
	inline []byte
	data   []byte
	offset uint32
}

func entriesFromDir(d *tiff.Dir, skip uint16) []ifdEntry {
	out := make([]ifdEntry, 0, len(d.Tags)+1)
	for _, t := range d.Tags {
		if t.Id == skip {
			continue
		}
		e := ifdEntry{tag: t.Id, typ: uint16(t.Type), count: t.Count}
		if len(t.Val) <= 4 {
			e.inline = t.Val
		} else {
			e.offset = t.ValOffset
		}
		out = append(out, e)
	}
	return out
}

func longEntry(tag uint16, v uint32, order binary.ByteOrder) ifdEntry {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: typeLong, count: 1, inline: b}
}

// appendIFD writes a directory (entries sorted by tag) plus its new values
// at the end of buf, word aligned, and returns the directory offset.
func appendIFD(buf []byte, order binary.ByteOrder, entries []ifdEntry, next uint32) ([]byte, uint32) {
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	start := uint32(len(buf))
	size := 2 + 12*len(entries) + 4
	dataAt := start + uint32(size)

	ifd := make([]byte, size)
	order.PutUint16(ifd, uint16(len(entries)))
	var data []byte
	for i, e := range entries {
		p := ifd[2+12*i:]
		order.PutUint16(p[0:], e.tag)
		order.PutUint16(p[2:], e.typ)
		order.PutUint32(p[4:], e.count)
		switch {
		case e.data != nil:
			order.PutUint32(p[8:], dataAt+uint32(len(data)))
			data = append(data, e.data...)
			if len(data)%2 == 1 {
				data = append(data, 0)
			}
		case len(e.inline) > 0:
			copy(p[8:12], e.inline)
		default:
			order.PutUint32(p[8:], e.offset)
		}
	}
	order.PutUint32(ifd[size-4:], next)

	buf = append(buf, ifd...)
	return append(buf, data...), start
}

func readTIFFHeader(t []byte) (binary.ByteOrder, uint32, error) {
	if len(t) < 8 {
		return nil, 0, fmt.Errorf("tiff header truncated")
	}
	var order binary.ByteOrder
	switch string(t[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("unknown tiff byte order %q", t[:2])
	}
	if order.Uint16(t[2:4]) != 42 {
		return nil, 0, fmt.Errorf("bad tiff magic")
	}
	off := order.Uint32(t[4:8])
	if off < 8 || int(off) >= len(t) {
		return nil, 0, fmt.Errorf("ifd0 offset %d out of range", off)
	}
	return order, off, nil
}

func decodeDirAt(t []byte, off uint32, order binary.ByteOrder) (*tiff.Dir, int32, error) {
	r := bytes.NewReader(t)
	if _, err := r.Seek(int64(off), 0); err != nil {
		return nil, 0, err
	}
	return tiff.DecodeDir(r, order)
}

// entryPos returns the byte position of tag's entry in the IFD at off.
func entryPos(t []byte, order binary.ByteOrder, off uint32, tag uint16) int {
	if int(off)+2 > len(t) {
		return -1
	}
	n := int(order.Uint16(t[off:]))
	for i := 0; i < n; i++ {
		p := int(off) + 2 + 12*i
		if p+12 > len(t) {
			return -1
		}
		if order.Uint16(t[p:]) == tag {
			return p
		}
	}
	return -1
}

// withMakerNote returns a copy of the TIFF block whose Exif IFD carries
// makerNote. The original bytes are left in place so every existing offset
// stays valid; a rewritten Exif IFD (and IFD0, if it had no Exif pointer) is
// appended.
func withMakerNote(t []byte, makerNote []byte) ([]byte, error) {
	order, ifd0Off, err := readTIFFHeader(t)
	if err != nil {
		return nil, err
	}
	ifd0, next, err := decodeDirAt(t, ifd0Off, order)
	if err != nil {
		return nil, fmt.Errorf("decode ifd0: %w", err)
	}

	var exifEntries []ifdEntry
	var exifPtr *tiff.Tag
	for _, tag := range ifd0.Tags {
		if tag.Id == tagExifIFDPointer {
			exifPtr = tag
			break
		}
	}
	if exifPtr != nil {
		if len(exifPtr.Val) != 4 {
			return nil, fmt.Errorf("exif pointer has %d value bytes", len(exifPtr.Val))
		}
		exifDir, _, err := decodeDirAt(t, order.Uint32(exifPtr.Val), order)
		if err != nil {
			return nil, fmt.Errorf("decode exif ifd: %w", err)
		}
		exifEntries = entriesFromDir(exifDir, tagMakerNote)
	}
	exifEntries = append(exifEntries, ifdEntry{
		tag:   tagMakerNote,
		typ:   typeUndefined,
		count: uint32(len(makerNote)),
		data:  makerNote,
	})

	out := append(make([]byte, 0, len(t)+len(makerNote)+256), t...)
	out, exifOff := appendIFD(out, order, exifEntries, 0)

	if exifPtr != nil {
		p := entryPos(out, order, ifd0Off, tagExifIFDPointer)
		if p < 0 {
			return nil, fmt.Errorf("exif pointer entry not found")
		}
		order.PutUint32(out[p+8:], exifOff)
		return out, nil
	}

	ifd0Entries := append(entriesFromDir(ifd0, tagExifIFDPointer), longEntry(tagExifIFDPointer, exifOff, order))
	out, newIFD0 := appendIFD(out, order, ifd0Entries, uint32(next))
	order.PutUint32(out[4:8], newIFD0)
	return out, nil
}

// minimalTIFF builds a big-endian TIFF block holding only an Exif IFD with
// the maker note.
func minimalTIFF(makerNote []byte) []byte {
	order := binary.BigEndian
	out := []byte{'M', 'M', 0x00, 0x2A, 0, 0, 0, 0}
	out, exifOff := appendIFD(out, order, []ifdEntry{{
		tag:   tagMakerNote,
		typ:   typeUndefined,
		count: uint32(len(makerNote)),
		data:  makerNote,
	}}, 0)
	out, ifd0Off := appendIFD(out, order, []ifdEntry{longEntry(tagExifIFDPointer, exifOff, order)}, 0)
	order.PutUint32(out[4:8], ifd0Off)
	return out
}
