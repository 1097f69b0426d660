package fetcher

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/voyagen/guidevault/internal/models"
)

// Guide is a parsed XMLTV document. Channels keep document order and are
// keyed by their guide-internal id; EpgFileID is left for the caller.
type Guide struct {
	Channels       []models.EpgChannel
	ProgrammeCount int
}

type xmlChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
	Icon         struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
	Category string `xml:"category"`
}

// ParseXMLTV decodes an XMLTV document, removing a gzip layer first if
// present. Channels without an id are skipped; a repeated id keeps its first
// declaration.
func ParseXMLTV(data []byte) (*Guide, error) {
	data, err := Decompress(data)
	if err != nil {
		return nil, &ParseError{Format: "xmltv", Construct: "gzip", Err: err}
	}
	return ParseXMLTVReader(bytes.NewReader(data))
}

// ParseXMLTVReader decodes an uncompressed XMLTV document from r.
func ParseXMLTVReader(r io.Reader) (*Guide, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = charsetReader

	var (
		g      Guide
		index  = make(map[string]int)
		counts = make(map[string]int)
		inTV   bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := dec.InputPos()
			return nil, &ParseError{Format: "xmltv", Construct: "xml", Line: line, Err: err}
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch el.Name.Local {
		case "tv":
			inTV = true
		case "channel":
			if !inTV {
				continue
			}
			var raw xmlChannel
			if err := dec.DecodeElement(&raw, &el); err != nil {
				line, _ := dec.InputPos()
				return nil, &ParseError{Format: "xmltv", Construct: "channel", Line: line, Err: err}
			}
			id := strings.TrimSpace(raw.ID)
			if id == "" {
				continue
			}
			if _, dup := index[id]; dup {
				continue
			}
			name := id
			for _, n := range raw.DisplayNames {
				if n = strings.TrimSpace(n); n != "" {
					name = n
					break
				}
			}
			index[id] = len(g.Channels)
			g.Channels = append(g.Channels, models.EpgChannel{
				ChannelID: id,
				Name:      name,
				Logo:      strings.TrimSpace(raw.Icon.Src),
				Group:     strings.TrimSpace(raw.Category),
			})
		case "programme":
			if !inTV {
				continue
			}
			for _, a := range el.Attr {
				if a.Name.Local == "channel" {
					counts[strings.TrimSpace(a.Value)]++
					break
				}
			}
			g.ProgrammeCount++
			if err := dec.Skip(); err != nil {
				line, _ := dec.InputPos()
				return nil, &ParseError{Format: "xmltv", Construct: "programme", Line: line, Err: err}
			}
		}
	}
	if !inTV {
		return nil, &ParseError{Format: "xmltv", Construct: "tv", Err: errors.New("missing <tv> root element")}
	}
	for id, i := range index {
		g.Channels[i].ProgrammeCount = counts[id]
	}
	return &g, nil
}

// charsetReader accepts the single-byte encodings guides commonly declare.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "latin1", "latin-1", "windows-1252":
		return &latin1Reader{r: input}, nil
	}
	return nil, errors.New("unsupported charset " + label)
}

// latin1Reader widens ISO-8859-1 bytes to UTF-8.
type latin1Reader struct {
	r       io.Reader
	pending []byte
	raw     [512]byte
}

func (l *latin1Reader) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		n, err := l.r.Read(l.raw[:])
		if n == 0 {
			return 0, err
		}
		for _, b := range l.raw[:n] {
			if b < 0x80 {
				l.pending = append(l.pending, b)
			} else {
				l.pending = append(l.pending, 0xc0|b>>6, 0x80|b&0x3f)
			}
		}
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}
