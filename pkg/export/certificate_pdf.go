package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateDocument holds the fields rendered onto a completion certificate.
type CertificateDocument struct {
	SerialNumber string
	StudentName  string
	CourseTitle  string
	IssuedAt     time.Time
	IssuerName   string
}

// CertificatePDFRenderer renders completion certificates as PDF documents.
type CertificatePDFRenderer struct{}

// NewCertificatePDFRenderer constructs a certificate renderer.
func NewCertificatePDFRenderer() *CertificatePDFRenderer {
	return &CertificatePDFRenderer{}
}

// Render produces the PDF bytes for a completion certificate.
func (r *CertificatePDFRenderer) Render(doc CertificateDocument) ([]byte, error) {
	if doc.StudentName == "" || doc.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires student name and course title")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 28)
	pdf.CellFormat(0, 18, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 12, doc.StudentName, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "has completed all modules of", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, doc.CourseTitle, "", 1, "C", false, 0, "")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	issued := doc.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued on %s", issued.Format("2 January 2006")), "", 1, "C", false, 0, "")
	if doc.SerialNumber != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Serial: %s", doc.SerialNumber), "", 1, "C", false, 0, "")
	}
	if doc.IssuerName != "" {
		pdf.Ln(10)
		pdf.CellFormat(0, 6, doc.IssuerName, "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
