package services

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"permit_flow_app_go/models"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// MaxExportRows bounds a single export
const MaxExportRows = 5000

const reportSheet = "Papeletas"

var reportHeaders = []string{
	"Número", "Solicitante", "Tipo", "Estado", "Salida", "Fin",
	"Retorno esperado", "Retorno", "Horas", "Días hábiles", "Motivo",
}

// ExportPermitsXLSX writes the permits matching filter to a workbook.
// Page and limit are ignored; the export is capped at MaxExportRows.
func ExportPermitsXLSX(ctx context.Context, db *gorm.DB, filter PermitFilter, loc *time.Location) (*bytes.Buffer, error) {
	if loc == nil {
		loc = time.UTC
	}

	filter.Page = 1
	filter.Limit = MaxPageSize
	var permits []models.Permit
	for len(permits) < MaxExportRows {
		page, total, err := ListPermits(db.WithContext(ctx), filter)
		if err != nil {
			return nil, fmt.Errorf("failed to load permits: %w", err)
		}
		permits = append(permits, page...)
		if len(page) < filter.Limit || int64(len(permits)) >= total {
			break
		}
		filter.Page++
	}

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", reportSheet)

	for i, h := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(reportSheet, cell, h)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	lastHeader, _ := excelize.CoordinatesToCellName(len(reportHeaders), 1)
	f.SetCellStyle(reportSheet, "A1", lastHeader, headerStyle)

	for i, p := range permits {
		row := i + 2
		info := GetDurationInfo(&p, &p.Type)

		values := []interface{}{
			p.Number(),
			p.RequesterID,
			p.Type.Name,
			p.State.Name,
			formatForDocument(p.StartAt, loc),
			optionalTime(p.EndAt, loc),
			optionalTime(p.ExpectedReturnAt, loc),
			optionalTime(p.ReturnedAt, loc),
			"",
			"",
			p.Reason,
		}
		if info.Hours != nil {
			values[8] = roundHours(*info.Hours)
		}
		end := p.EndAt
		if p.ReturnedAt != nil {
			end = p.ReturnedAt
		}
		if end != nil {
			values[9] = CountDays(p.StartAt.In(loc), end.In(loc), false)
		}

		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(reportSheet, cell, v)
		}
	}

	f.SetColWidth(reportSheet, "A", "K", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	return buf, nil
}

func optionalTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return formatForDocument(*t, loc)
}

func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
