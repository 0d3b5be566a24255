package report

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/mzyy94/stylusctl/internal/escp"
)

// Report is the content of a maintenance report.
type Report struct {
	Host    string
	Time    time.Time
	Status  *escp.StatusRecord
	Nozzles escp.NozzleCheckResult // nil when no nozzle check was read
	Outcome string
	Cleaned string // cleaning group label, empty when nothing was cleaned
}

// Write renders r as a PDF file at path.
func Write(path string, r Report) error {
	data, err := Generate(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Generate renders r as a PDF in memory.
func Generate(r Report) ([]byte, error) {
	if r.Status == nil {
		return nil, fmt.Errorf("report: no status")
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Printer maintenance report", false)
	pdf.SetCreator("stylusctl", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Printer maintenance report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	row := func(label, value string) {
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}
	row("Printer", r.Host)
	row("Date", r.Time.Format(time.RFC1123))
	row("Status", fmt.Sprintf("%s (%d)", r.Status.StatusText, r.Status.Status))
	if r.Status.Serial != nil {
		row("Serial", *r.Status.Serial)
	}
	if r.Cleaned != "" {
		row("Cleaned group", r.Cleaned)
	}
	if r.Outcome != "" {
		row("Result", r.Outcome)
	}
	pdf.Ln(4)

	if len(r.Status.Inks) > 0 {
		section(pdf, "Ink levels")
		for _, ink := range r.Status.Inks {
			bar(pdf, ink.Name, int(ink.Level))
		}
		pdf.Ln(4)
	}
	if r.Status.Tanks != nil {
		section(pdf, "Maintenance tanks")
		bar(pdf, "Tank 1", int(r.Status.Tanks.Tank1))
		bar(pdf, "Tank 2", int(r.Status.Tanks.Tank2))
		pdf.Ln(4)
	}

	if r.Nozzles != nil {
		section(pdf, "Nozzle check")
		nozzles := escp.Nozzles()
		for i, blocked := range r.Nozzles {
			name := fmt.Sprintf("#%d", i+1)
			if len(r.Nozzles) == len(nozzles) {
				name = fmt.Sprintf("%s (%s)", nozzles[i].Long, nozzles[i].Short)
			}
			state := "OK"
			if blocked {
				state = "BLOCKED"
				pdf.SetTextColor(200, 0, 0)
			}
			pdf.CellFormat(70, 6, name, "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, state, "", 1, "L", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("generate PDF: %w", err)
	}
	return out.Bytes(), nil
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 11)
}

// bar draws a labelled 0-100 gauge. Values above 100 are clipped.
func bar(pdf *fpdf.Fpdf, label string, value int) {
	const width = 100.0
	pdf.CellFormat(45, 6, label, "", 0, "L", false, 0, "")
	x, y := pdf.GetXY()
	pdf.SetDrawColor(120, 120, 120)
	pdf.Rect(x, y+1, width, 4, "D")
	fill := min(max(value, 0), 100)
	pdf.SetFillColor(60, 60, 60)
	if fill > 0 {
		pdf.Rect(x, y+1, width*float64(fill)/100, 4, "F")
	}
	pdf.SetX(x + width + 4)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d", value), "", 1, "L", false, 0, "")
}
