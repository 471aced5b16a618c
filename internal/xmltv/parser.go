// Package xmltv provides streaming parsing for XMLTV guide documents.
package xmltv

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrMalformed is returned when the document is not structurally valid XML.
	ErrMalformed = errors.New("malformed XMLTV document")
	// ErrDecompress is returned when gzip-wrapped input cannot be decompressed.
	ErrDecompress = errors.New("failed to decompress guide document")
)

// timeLayout is the XMLTV timestamp format: 14 digits plus a signed UTC offset.
const timeLayout = "20060102150405 -0700"

// naiveLayout covers timestamps missing the offset, which are treated as UTC.
const naiveLayout = "20060102150405"

// Program represents one scheduled broadcast for a guide channel.
type Program struct {
	Channel     string
	Title       string
	Description string
	Start       time.Time
	Stop        time.Time
}

// Document is the parsed result of one guide fetch: programs grouped by
// guide channel identifier, each list ordered by start time.
type Document struct {
	Programs  map[string][]Program
	FetchedAt time.Time
	Source    string
}

// ProgramsFor returns the ordered program list for a guide channel, or nil
// when the channel has no guide data.
func (d *Document) ProgramsFor(channelID string) []Program {
	if d == nil {
		return nil
	}

	return d.Programs[channelID]
}

// ProgramCount returns the total number of programs across all channels.
func (d *Document) ProgramCount() int {
	if d == nil {
		return 0
	}

	count := 0
	for _, programs := range d.Programs {
		count += len(programs)
	}

	return count
}

// Parse parses XMLTV guide data into a Document. Gzip-wrapped input is
// detected by magic header and decompressed internally. Guide documents can
// be tens of megabytes, so programme elements are decoded one at a time off
// a streaming token reader instead of unmarshalling the whole tree.
func Parse(log logrus.FieldLogger, data []byte) (*Document, error) {
	var reader io.Reader = bytes.NewReader(data)

	if isGzip(data) {
		gzReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		defer gzReader.Close()

		reader = gzReader
	}

	doc := &Document{
		Programs:  make(map[string][]Program, 100),
		FetchedAt: time.Now().UTC(),
	}

	decoder := xml.NewDecoder(reader)

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			// Corrupt gzip streams surface mid-decode as read errors
			// rather than markup errors.
			var syntaxErr *xml.SyntaxError
			if isGzip(data) && !errors.As(err, &syntaxErr) {
				return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
			}

			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "programme" {
			continue
		}

		program, ok := decodeProgramme(log, decoder, start)
		if !ok {
			continue
		}

		doc.Programs[program.Channel] = append(doc.Programs[program.Channel], program)
	}

	for channelID, programs := range doc.Programs {
		if !sortedByStart(programs) {
			sort.SliceStable(programs, func(i, j int) bool {
				return programs[i].Start.Before(programs[j].Start)
			})
			doc.Programs[channelID] = programs
		}
	}

	return doc, nil
}

// programmeElement mirrors one <programme> element. Title and description
// repeat per language; the first variant wins.
type programmeElement struct {
	Channel      string   `xml:"channel,attr"`
	Start        string   `xml:"start,attr"`
	Stop         string   `xml:"stop,attr"`
	Titles       []string `xml:"title"`
	Descriptions []string `xml:"desc"`
}

func decodeProgramme(log logrus.FieldLogger, decoder *xml.Decoder, start xml.StartElement) (Program, bool) {
	var element programmeElement

	if err := decoder.DecodeElement(&element, &start); err != nil {
		log.WithError(err).Debug("Skipping undecodable programme element")

		return Program{}, false
	}

	if element.Channel == "" {
		return Program{}, false
	}

	startTime, err := ParseTime(element.Start)
	if err != nil {
		log.WithFields(logrus.Fields{
			"channel": element.Channel,
			"start":   element.Start,
		}).Debug("Dropping programme with unparsable start time")

		return Program{}, false
	}

	stopTime, err := ParseTime(element.Stop)
	if err != nil {
		log.WithFields(logrus.Fields{
			"channel": element.Channel,
			"stop":    element.Stop,
		}).Debug("Dropping programme with unparsable stop time")

		return Program{}, false
	}

	program := Program{
		Channel: element.Channel,
		Start:   startTime,
		Stop:    stopTime,
	}

	if len(element.Titles) > 0 {
		program.Title = element.Titles[0]
	}

	if len(element.Descriptions) > 0 {
		program.Description = element.Descriptions[0]
	}

	return program, true
}

// ParseTime parses an XMLTV timestamp (e.g. "20260120120000 +0000") and
// normalizes it to UTC. A timestamp without an offset is treated as UTC.
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse(naiveLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid XMLTV timestamp %q: %w", value, err)
	}

	return t.UTC(), nil
}

// FormatTime renders a UTC instant back into XMLTV timestamp form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func sortedByStart(programs []Program) bool {
	for i := 1; i < len(programs); i++ {
		if programs[i].Start.Before(programs[i-1].Start) {
			return false
		}
	}

	return true
}
