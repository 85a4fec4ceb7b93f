package xmp

import (
	"errors"
	"strings"
	"testing"
)

const googlePacket = `<x:xmpmeta xmlns:x="adobe:ns:meta/">
  <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
    <rdf:Description rdf:about=""
        xmlns:GCamera="http://ns.google.com/photos/1.0/camera/"
        GCamera:MicroVideo="1"
        GCamera:MicroVideoVersion="1"
        GCamera:MicroVideoOffset="2500000"
        GCamera:MicroVideoPresentationTimestampUs="1500000"/>
  </rdf:RDF>
</x:xmpmeta>`

func TestExtract_LastOccurrenceWins(t *testing.T) {
	first := `<x:xmpmeta>first</x:xmpmeta>`
	second := `<x:xmpmeta>second</x:xmpmeta>`
	raw := []byte("\xff\xd8junk" + first + "more" + second + "tail")

	got, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if string(got) != second {
		t.Fatalf("Extract() = %q, want %q", got, second)
	}
}

func TestExtract_NotFound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no markers", "\xff\xd8\xff\xe0plain jpeg"},
		{"start only", "<x:xmpmeta>open"},
		{"end only", "close</x:xmpmeta>"},
		{"end before start", "</x:xmpmeta> then <x:xmpmeta>"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.raw))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Extract() error = %v, want %v", err, ErrNotFound)
			}
		})
	}
}

func TestExtract_ResultDoesNotGrowIntoContainer(t *testing.T) {
	raw := []byte("<x:xmpmeta></x:xmpmeta>VIDEO")
	got, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	_ = append(got, 'X')
	if string(raw[len(got):]) != "VIDEO" {
		t.Fatalf("append through fragment modified container: %q", raw)
	}
}

func TestParse_Attributes(t *testing.T) {
	m, err := Parse([]byte(googlePacket))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := m["GCamera:MicroVideoOffset"]; got != "2500000" {
		t.Errorf("MicroVideoOffset = %q, want %q", got, "2500000")
	}
	if got := m["GCamera:MicroVideoPresentationTimestampUs"]; got != "1500000" {
		t.Errorf("MicroVideoPresentationTimestampUs = %q, want %q", got, "1500000")
	}
	if _, ok := m["GCamera:MicroVideoVersion"]; ok {
		t.Error("unrelated attribute GCamera:MicroVideoVersion should not be recorded")
	}
}

func TestParse_ElementText(t *testing.T) {
	packet := `<x:xmpmeta xmlns:x="adobe:ns:meta/">
  <rdf:RDF>
    <rdf:Description>
      <GCamera:MicroVideoOffset>  123456 </GCamera:MicroVideoOffset>
      <GCamera:MotionPhotoPresentationTimestampUs>900000</GCamera:MotionPhotoPresentationTimestampUs>
      <dc:title>first</dc:title>
      <dc:title>second</dc:title>
    </rdf:Description>
  </rdf:RDF>
</x:xmpmeta>`

	m, err := Parse([]byte(packet))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := m["GCamera:MicroVideoOffset"]; got != "123456" {
		t.Errorf("MicroVideoOffset = %q, want %q", got, "123456")
	}
	if got := m["GCamera:MotionPhotoPresentationTimestampUs"]; got != "900000" {
		t.Errorf("MotionPhotoPresentationTimestampUs = %q, want %q", got, "900000")
	}
	if got := m["dc:title"]; got != "second" {
		t.Errorf("dc:title = %q, want last value %q", got, "second")
	}
	if _, ok := m["rdf:Description"]; ok {
		t.Error("whitespace-only text should not be recorded")
	}
}

func TestParse_ContainerDirectory(t *testing.T) {
	packet := `<x:xmpmeta xmlns:x="adobe:ns:meta/">
  <rdf:RDF>
    <rdf:Description GCamera:MotionPhoto="1" GCamera:MotionPhotoPresentationTimestampUs="433000">
      <Container:Directory>
        <rdf:Seq>
          <rdf:li rdf:parseType="Resource">
            <Container:Item Item:Mime="image/jpeg" Item:Semantic="Primary" Item:Length="0"/>
          </rdf:li>
          <rdf:li rdf:parseType="Resource">
            <Container:Item Item:Mime="video/mp4" Item:Semantic="MotionPhoto" Item:Length="3145728"/>
          </rdf:li>
        </rdf:Seq>
      </Container:Directory>
    </rdf:Description>
  </rdf:RDF>
</x:xmpmeta>`

	m, err := Parse([]byte(packet))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := m["GContainer:ItemLength"]; got != "3145728" {
		t.Errorf("GContainer:ItemLength = %q, want %q", got, "3145728")
	}
	if got := m["GCamera:MotionPhotoPresentationTimestampUs"]; got != "433000" {
		t.Errorf("MotionPhotoPresentationTimestampUs = %q, want %q", got, "433000")
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		packet string
	}{
		{"mismatched end", `<x:xmpmeta><rdf:RDF></x:xmpmeta>`},
		{"unclosed", `<x:xmpmeta><rdf:RDF>`},
		{"bad attribute", `<x:xmpmeta a=></x:xmpmeta>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.packet))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Parse() error = %v, want ErrMalformed", err)
			}
			var me *MalformedError
			if !errors.As(err, &me) || me.Diagnostic == "" {
				t.Fatalf("Parse() error %v should carry a diagnostic", err)
			}
			if !strings.HasPrefix(err.Error(), "malformed xmp: ") {
				t.Errorf("Error() = %q", err.Error())
			}
		})
	}
}

func TestMap_KeysSorted(t *testing.T) {
	m := Map{"b": "2", "a": "1", "c": "3"}
	got := strings.Join(m.Keys(), ",")
	if got != "a,b,c" {
		t.Fatalf("Keys() = %q, want %q", got, "a,b,c")
	}
}
