package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "lifewatch-cloud/internal/alerts/domain"
	"lifewatch-cloud/internal/confirmation"
	subjects "lifewatch-cloud/internal/subjects/domain"
)

// BuildIncidentPDF renders an incident summary for one subject: the
// latest emergency report plus the alerts leading up to it.
func BuildIncidentPDF(subject subjects.Subject, report *confirmation.EmergencyReport, events []alerts.AlertEvent) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Incident Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Subject: %s (%s)", subject.Name, subject.ID))
	pdf.Ln(5)
	if subject.Address != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Address: %s", subject.Address))
		pdf.Ln(5)
	}
	if subject.Phone != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Phone: %s", subject.Phone))
		pdf.Ln(5)
	}

	if report != nil {
		pdf.Ln(4)
		pdf.Cell(0, 6, fmt.Sprintf("Report: %s", report.ID))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Filed: %s", report.FiledAt.Format(time.RFC3339)))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Silence at filing: %.0f minutes", report.MinutesSilent))
		pdf.Ln(5)
		if report.MedicalNotes != "" {
			pdf.Cell(0, 6, fmt.Sprintf("Medical notes: %s", report.MedicalNotes))
			pdf.Ln(5)
		}
		if len(report.ReportedBy) > 0 {
			pdf.Cell(0, 6, fmt.Sprintf("Reported by: %s", strings.Join(report.ReportedBy, ", ")))
			pdf.Ln(5)
		}
		for _, contact := range report.EmergencyContacts {
			pdf.Cell(0, 6, fmt.Sprintf("Emergency contact: %s %s", contact.Name, contact.Phone))
			pdf.Ln(5)
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Minutes Silent", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, event := range events {
		pdf.CellFormat(60, 6, event.ComputedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, event.Level.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.0f", event.MinutesSilent), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders the alert history across subjects.
func BuildHistoryXLSX(since time.Time, events []alerts.AlertEvent) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	eventsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(eventsSheet)

	counts := map[alerts.Level]int{}
	for _, event := range events {
		counts[event.Level]++
	}
	_ = f.SetCellValue(summarySheet, "A1", "Alert History")
	_ = f.SetCellValue(summarySheet, "A3", "Since")
	_ = f.SetCellValue(summarySheet, "B3", since.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Total alerts")
	_ = f.SetCellValue(summarySheet, "B4", len(events))
	_ = f.SetCellValue(summarySheet, "A5", "Warning")
	_ = f.SetCellValue(summarySheet, "B5", counts[alerts.LevelWarning])
	_ = f.SetCellValue(summarySheet, "A6", "Danger")
	_ = f.SetCellValue(summarySheet, "B6", counts[alerts.LevelDanger])
	_ = f.SetCellValue(summarySheet, "A7", "Emergency")
	_ = f.SetCellValue(summarySheet, "B7", counts[alerts.LevelEmergency])

	_ = f.SetCellValue(eventsSheet, "A1", "Time")
	_ = f.SetCellValue(eventsSheet, "B1", "Subject")
	_ = f.SetCellValue(eventsSheet, "C1", "Level")
	_ = f.SetCellValue(eventsSheet, "D1", "Minutes Silent")
	for i, event := range events {
		row := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), event.ComputedAt.Format(time.RFC3339))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), event.UserID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), event.Level.String())
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), event.MinutesSilent)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
