package sslscan

import (
	"testing"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<document title="SSLScan Results" version="2.1.3">
 <ssltest host="a.example.com" port="443">
  <cipher status="preferred" sslversion="TLSv1.2" bits="256" cipher="ECDHE-RSA-AES256-GCM-SHA384" id="0xC030" strength="strong"/>
  <cipher status="accepted" sslversion="TLSv1.2" bits="128" cipher="ECDHE-RSA-AES128-GCM-SHA256" id="0xC02F"/>
  <cipher status="rejected" sslversion="SSLv3" bits="40" cipher="EXP-RC4-MD5" id="0x03"/>
 </ssltest>
</document>`

func TestParseReport_FiltersStatus(t *testing.T) {
	records, err := ParseReport([]byte(sampleReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (accepted + preferred only): %v", len(records), records)
	}

	first := records[0]
	if first.Status != "preferred" {
		t.Errorf("status = %q, want %q", first.Status, "preferred")
	}
	if first.ID != "0xC030" {
		t.Errorf("id = %q, want %q", first.ID, "0xC030")
	}
	if first.SSLVersion != "TLSv1.2" {
		t.Errorf("sslversion = %q, want %q", first.SSLVersion, "TLSv1.2")
	}
	if first.Name != "ECDHE-RSA-AES256-GCM-SHA384" {
		t.Errorf("cipher = %q, want %q", first.Name, "ECDHE-RSA-AES256-GCM-SHA384")
	}
	if first.Bits != "256" {
		t.Errorf("bits = %q, want %q", first.Bits, "256")
	}

	for _, r := range records {
		if r.Status == "rejected" {
			t.Errorf("rejected cipher %s must be discarded", r.ID)
		}
	}
}

func TestParseReport_MissingAttributesDefaultEmpty(t *testing.T) {
	report := `<document><ssltest><cipher status="accepted" id="0x01"/></ssltest></document>`

	records, err := ParseReport([]byte(report))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	r := records[0]
	if r.SSLVersion != "" || r.Name != "" || r.Bits != "" {
		t.Errorf("missing attributes should default to empty strings, got %+v", r)
	}
}

func TestParseReport_MissingIDDropped(t *testing.T) {
	report := `<document><ssltest>
		<cipher status="accepted" sslversion="TLSv1.3" cipher="TLS_AES_128_GCM_SHA256" bits="128"/>
		<cipher status="accepted" id="0x02" cipher="other"/>
	</ssltest></document>`

	records, err := ParseReport([]byte(report))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "0x02" {
		t.Errorf("entries without the stable id must be dropped, got %v", records)
	}
}

func TestParseReport_EmptyAcceptedSet(t *testing.T) {
	report := `<document><ssltest host="b.example.com" port="443">
		<cipher status="rejected" sslversion="SSLv3" bits="40" cipher="EXP-RC4-MD5" id="0x03"/>
	</ssltest></document>`

	records, err := ParseReport([]byte(report))
	if err != nil {
		t.Fatalf("zero accepted entries is not an error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestParseReport_MalformedIsError(t *testing.T) {
	_, err := ParseReport([]byte(`<document><ssltest><cipher status="accepted"`))
	if err == nil {
		t.Fatal("expected error for truncated XML")
	}
}

func TestParseReport_NotXMLIsError(t *testing.T) {
	_, err := ParseReport([]byte("Connection refused\n<oops"))
	if err == nil {
		t.Fatal("expected error for non-XML input")
	}
}
