// Package xmp locates the XMP packet embedded in an image container and
// flattens it into a key/value map.
package xmp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the container has no complete XMP packet.
	ErrNotFound = errors.New("xmp packet not found")

	// ErrMalformed matches every *MalformedError.
	ErrMalformed = errors.New("malformed xmp")
)

var (
	startMarker = []byte("<x:xmpmeta")
	endMarker   = []byte("</x:xmpmeta>")
)

// recordedAttrs are the attribute name fragments worth keeping.
var recordedAttrs = []string{"MicroVideoOffset", "ItemLength", "PresentationTimestampUs"}

// MalformedError carries the XML decoder's diagnostic.
type MalformedError struct {
	Diagnostic string
	Err        error
}

func (e *MalformedError) Error() string {
	return "malformed xmp: " + e.Diagnostic
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// Map is a flat view of an XMP packet keyed by qualified names such as
// "GCamera:MicroVideoOffset". Later writes replace earlier ones.
type Map map[string]string

// Keys returns the map keys in lexical order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extract returns the packet between the last "<x:xmpmeta" and the last
// "</x:xmpmeta>" markers, both included. The result aliases raw.
func Extract(raw []byte) ([]byte, error) {
	start := bytes.LastIndex(raw, startMarker)
	end := bytes.LastIndex(raw, endMarker)
	if start < 0 || end < 0 || end < start {
		return nil, ErrNotFound
	}
	stop := end + len(endMarker)
	return raw[start:stop:stop], nil
}

// Parse streams the packet and records matching attributes and non-empty
// element text. Namespace prefixes are kept as written.
func Parse(fragment []byte) (Map, error) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	out := make(Map)
	var stack []string

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedError{Diagnostic: err.Error(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := qualified(t.Name)
			stack = append(stack, name)
			for _, a := range t.Attr {
				key := qualified(a.Name)
				if isRecorded(key) {
					out[key] = a.Value
				}
			}
			recordContainerItem(out, name, t.Attr)
		case xml.EndElement:
			name := qualified(t.Name)
			if len(stack) == 0 || stack[len(stack)-1] != name {
				line, _ := dec.InputPos()
				return nil, &MalformedError{
					Diagnostic: fmt.Sprintf("line %d: unexpected end element </%s>", line, name),
				}
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			if text := strings.TrimSpace(string(t)); text != "" {
				out[stack[len(stack)-1]] = text
			}
		}
	}

	if len(stack) != 0 {
		return nil, &MalformedError{
			Diagnostic: fmt.Sprintf("unexpected EOF: element <%s> not closed", stack[len(stack)-1]),
		}
	}
	return out, nil
}

// recordContainerItem maps a Motion Photo v1 directory entry
// (Container:Item with Item:Semantic="MotionPhoto") onto GContainer:ItemLength.
func recordContainerItem(out Map, element string, attrs []xml.Attr) {
	if element != "Container:Item" {
		return
	}
	var semantic, length string
	for _, a := range attrs {
		switch qualified(a.Name) {
		case "Item:Semantic":
			semantic = a.Value
		case "Item:Length":
			length = a.Value
		}
	}
	if semantic == "MotionPhoto" && length != "" {
		out["GContainer:ItemLength"] = length
	}
}

func isRecorded(name string) bool {
	for _, frag := range recordedAttrs {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
