package store

import (
	"context"
	"fmt"
	"time"

	"tadbir/api/internal/lifecycle"
)

// Workgroup archive documents share the resolutions table, disambiguated by a
// reserved lesson value carried over from the system this replaces. Nothing
// outside this file reads or writes the marker.
const (
	pdfLessonMarker       = "__PDF_INTERNAL_DOC__"
	archiveWorkgroupLabel = "بایگانی اسناد"
	archiveExecutorLabel  = "سیستم"
)

func normalizeReminderType(value string) lifecycle.ReminderType {
	switch lifecycle.ReminderType(value) {
	case lifecycle.ReminderOnce, lifecycle.ReminderMonthly, lifecycle.ReminderQuarterly, lifecycle.ReminderYearly:
		return lifecycle.ReminderType(value)
	default:
		return lifecycle.ReminderNone
	}
}

func encodeWorkgroupPDF(pdf WorkgroupPDF) Resolution {
	createdAt := pdf.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return Resolution{
		ID:           pdf.ID,
		ParentID:     pdf.WorkgroupID,
		Title:        pdf.Title,
		Description:  pdf.Description,
		Workgroup:    archiveWorkgroupLabel,
		Lesson:       pdfLessonMarker,
		Executor:     archiveExecutorLabel,
		Images:       []string{pdf.FileURL},
		IsApproved:   true,
		CreatedAt:    createdAt,
		ReminderType: lifecycle.ReminderNone,
	}
}

func decodeWorkgroupPDF(item Resolution) WorkgroupPDF {
	fileURL := ""
	if len(item.Images) > 0 {
		fileURL = item.Images[0]
	}
	return WorkgroupPDF{
		ID:          item.ID,
		WorkgroupID: item.ParentID,
		Title:       item.Title,
		Description: item.Description,
		FileURL:     fileURL,
		CreatedAt:   item.CreatedAt,
	}
}

func (s *PostgresStore) ListWorkgroupPDFs(ctx context.Context, workgroupID string) ([]WorkgroupPDF, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resolutionColumns+`
		FROM resolutions
		WHERE parent_id = $1 AND lesson = $2
		ORDER BY created_at DESC
	`, workgroupID, pdfLessonMarker)
	if err != nil {
		return nil, fmt.Errorf("list workgroup pdfs: %w", err)
	}
	defer rows.Close()

	items := make([]WorkgroupPDF, 0)
	for rows.Next() {
		item, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workgroup pdf: %w", err)
		}
		items = append(items, decodeWorkgroupPDF(item))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workgroup pdfs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveWorkgroupPDF(ctx context.Context, pdf WorkgroupPDF) error {
	if err := s.SaveResolution(ctx, encodeWorkgroupPDF(pdf)); err != nil {
		return fmt.Errorf("save workgroup pdf: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWorkgroupPDF(ctx context.Context, pdfID string) error {
	return s.DeleteResolution(ctx, pdfID)
}
