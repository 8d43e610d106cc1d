package store

import (
	"testing"
	"time"
)

func TestWorkgroupPDFEncoding(t *testing.T) {
	created := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	pdf := WorkgroupPDF{
		ID:          "res_pdf1",
		WorkgroupID: "wg-quran",
		Title:       "آیین‌نامه داخلی",
		Description: "نسخه نهایی",
		FileURL:     "https://files.example/wg/a.pdf",
		CreatedAt:   created,
	}

	encoded := encodeWorkgroupPDF(pdf)
	if encoded.Lesson != pdfLessonMarker {
		t.Fatalf("encoded lesson = %q, want marker", encoded.Lesson)
	}
	if encoded.ParentID != pdf.WorkgroupID {
		t.Fatalf("encoded parent = %q, want workgroup id", encoded.ParentID)
	}
	if len(encoded.Images) != 1 || encoded.Images[0] != pdf.FileURL {
		t.Fatalf("encoded images = %v, want [fileURL]", encoded.Images)
	}
	if !encoded.IsApproved {
		t.Fatal("archive records are always approved")
	}
	if encoded.Workgroup != archiveWorkgroupLabel {
		t.Fatalf("encoded workgroup = %q, want archive label", encoded.Workgroup)
	}

	decoded := decodeWorkgroupPDF(encoded)
	if decoded != pdf {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, pdf)
	}
}

func TestDecodeWorkgroupPDFWithoutFile(t *testing.T) {
	decoded := decodeWorkgroupPDF(Resolution{ID: "r1", ParentID: "wg", Lesson: pdfLessonMarker})
	if decoded.FileURL != "" {
		t.Fatalf("FileURL = %q, want empty", decoded.FileURL)
	}
}
