package epub

import (
	"archive/zip"
	"errors"
	"strings"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	report, err := (&Validator{}).Validate(createTestEPUB(t, t.TempDir()))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if report.Title != "Test Book" || report.Identifier != "urn:uuid:1234" {
		t.Errorf("report = %+v", report)
	}
	if report.OPFPath != "OEBPS/content.opf" || report.Spine != 1 || report.NavPoints != 1 || report.Entries != 5 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Warnings = %v", report.Warnings)
	}
}

func TestValidate_Structural(t *testing.T) {
	p := writeTestZip(t, t.TempDir(), "bad.epub", []zipEntry{{"mimetype", zip.Deflate, "application/epub+zip"}})
	_, err := (&Validator{}).Validate(p)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if !errors.Is(err, ErrMimetypeCompressed) {
		t.Errorf("error should wrap ErrMimetypeCompressed: %v", err)
	}
}

func TestValidate_PackageProblems(t *testing.T) {
	tests := []struct {
		name    string
		opf     string
		drop    string
		wantMsg string
	}{
		{
			name:    "missing manifest file",
			opf:     testOPF,
			drop:    "OEBPS/chapter1.xhtml",
			wantMsg: "OEBPS/chapter1.xhtml not found",
		},
		{
			name:    "no title",
			opf:     strings.Replace(testOPF, "<dc:title>Test Book</dc:title>", "", 1),
			wantMsg: "no dc:title",
		},
		{
			name:    "no identifier",
			opf:     strings.Replace(testOPF, `id="BookId"`, `id="other"`, 1),
			wantMsg: "no unique dc:identifier",
		},
		{
			name:    "empty spine",
			opf:     strings.Replace(testOPF, `<itemref idref="chapter1"/>`, "", 1),
			wantMsg: "spine is empty",
		},
		{
			name:    "dangling itemref",
			opf:     strings.Replace(testOPF, `<itemref idref="chapter1"/>`, `<itemref idref="ghost"/>`, 1),
			wantMsg: `"ghost" does not resolve`,
		},
		{
			name:    "toc not in manifest",
			opf:     strings.Replace(testOPF, `toc="ncx"`, `toc="nav"`, 1),
			wantMsg: `toc "nav" does not resolve`,
		},
		{
			name:    "no toc",
			opf:     strings.Replace(testOPF, ` toc="ncx"`, "", 1),
			wantMsg: "no toc attribute",
		},
		{
			name:    "broken ncx",
			opf:     testOPF,
			drop:    "OEBPS/toc.ncx",
			wantMsg: "NCX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []zipEntry
			for _, e := range validEntries() {
				if e.Name == tt.drop {
					continue
				}
				if e.Name == "OEBPS/content.opf" {
					e.Content = tt.opf
				}
				entries = append(entries, e)
			}
			p := writeTestZip(t, t.TempDir(), "bad.epub", entries)

			_, err := (&Validator{}).Validate(p)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}
