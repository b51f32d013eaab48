package sslscan

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/vulnverified/ciphersweep/internal/engine"
)

// cipherElem mirrors one <cipher> element of an sslscan XML report.
// Attributes absent from the report decode to "" rather than failing;
// the report format is semi-structured and varies between versions.
type cipherElem struct {
	Status     string `xml:"status,attr"`
	SSLVersion string `xml:"sslversion,attr"`
	Cipher     string `xml:"cipher,attr"`
	ID         string `xml:"id,attr"`
	Bits       string `xml:"bits,attr"`
}

// Parser implements engine.ReportParser for sslscan XML output.
type Parser struct{}

// Parse extracts accepted cipher records from a raw XML report.
func (p *Parser) Parse(report []byte) ([]engine.CipherRecord, error) {
	return ParseReport(report)
}

// ParseReport walks the report and emits one record per <cipher> element
// whose status is exactly "accepted" or "preferred"; everything else
// (rejected, errored, unknown) is discarded. Entries without the stable
// scanner-assigned id are dropped since they cannot be keyed. A well-formed
// report with no accepted entries yields an empty slice and no error;
// malformed XML is an error for this host's scan.
func ParseReport(report []byte) ([]engine.CipherRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(report))

	var records []engine.CipherRecord
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed report: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "cipher" {
			continue
		}

		var c cipherElem
		if err := dec.DecodeElement(&c, &start); err != nil {
			return nil, fmt.Errorf("malformed cipher element: %w", err)
		}

		if c.Status != "accepted" && c.Status != "preferred" {
			continue
		}
		if c.ID == "" {
			continue
		}

		records = append(records, engine.CipherRecord{
			ID:         c.ID,
			SSLVersion: c.SSLVersion,
			Name:       c.Cipher,
			Bits:       c.Bits,
			Status:     c.Status,
		})
	}

	return records, nil
}
