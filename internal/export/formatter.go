// Package export renders report results to bytes. JSON and CSV are handled
// in-process; PDF and Excel rendering belongs to the export service and is
// rejected here.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
	"github.com/aoba-mfg/be-kanban-approvals/internal/service"
)

// Format is the requested output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatPDF   Format = "pdf"
	FormatExcel Format = "excel"
)

// ParseFormat validates a format string, defaulting empty to JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDF, FormatExcel:
		return Format(s), nil
	default:
		return "", apperr.InvalidInput("format", fmt.Sprintf("unknown format %q", s))
	}
}

// Formatter renders report results.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// ContentType returns the MIME type for a format.
func (Formatter) ContentType(format Format) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Render encodes a report result. The result must be one of the report
// types produced by the service layer.
func (f Formatter) Render(result any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(result, "", "  ")
	case FormatCSV:
		return renderCSV(result)
	case FormatPDF, FormatExcel:
		return nil, apperr.Newf(apperr.CodeValidation,
			"%s rendering is handled by the export service", format)
	default:
		return nil, apperr.InvalidInput("format", fmt.Sprintf("unknown format %q", format))
	}
}

func renderCSV(result any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	var err error
	switch r := result.(type) {
	case *service.RangeSummary:
		err = writeRangeSummary(w, r)
	case *service.EfficiencyReport:
		err = writeEfficiency(w, r)
	case *service.ActivityReport:
		err = writeActivity(w, r)
	case *service.BreakdownReport:
		err = writeBreakdown(w, r)
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "cannot render %T as csv", result)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to render csv")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to render csv")
	}
	return buf.Bytes(), nil
}

func writeRangeSummary(w *csv.Writer, r *service.RangeSummary) error {
	if err := w.Write([]string{"type", "from", "to", "status", "count"}); err != nil {
		return err
	}

	statuses := make([]string, 0, len(r.StatusCounts))
	for s := range r.StatusCounts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	for _, status := range statuses {
		row := []string{
			r.Type,
			r.From.Format(time.RFC3339),
			r.To.Format(time.RFC3339),
			status,
			strconv.Itoa(r.StatusCounts[repository.Status(status)]),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Write([]string{
		r.Type,
		r.From.Format(time.RFC3339),
		r.To.Format(time.RFC3339),
		"TOTAL",
		strconv.Itoa(r.Total),
	})
}

func writeEfficiency(w *csv.Writer, r *service.EfficiencyReport) error {
	if err := w.Write([]string{
		"type", "from", "to", "decided", "approved", "rejected",
		"mean_latency", "min_latency", "max_latency", "rejection_rate",
	}); err != nil {
		return err
	}
	return w.Write([]string{
		r.Type,
		r.From.Format(time.RFC3339),
		r.To.Format(time.RFC3339),
		strconv.Itoa(r.Decided),
		strconv.Itoa(r.Approved),
		strconv.Itoa(r.Rejected),
		r.MeanLatency.String(),
		r.MinLatency.String(),
		r.MaxLatency.String(),
		strconv.FormatFloat(r.RejectionRate, 'f', 4, 64),
	})
}

func writeActivity(w *csv.Writer, r *service.ActivityReport) error {
	if err := w.Write([]string{"requester_id", "created", "approved", "rejected"}); err != nil {
		return err
	}
	for _, row := range r.Requesters {
		if err := w.Write([]string{
			row.RequesterID,
			strconv.Itoa(row.Created),
			strconv.Itoa(row.Approved),
			strconv.Itoa(row.Rejected),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeBreakdown(w *csv.Writer, r *service.BreakdownReport) error {
	if err := w.Write([]string{"department_id", "total", "total_quantity", "distinct_parts"}); err != nil {
		return err
	}
	for _, dept := range r.Departments {
		id := ""
		if dept.DepartmentID != nil {
			id = *dept.DepartmentID
		}
		if err := w.Write([]string{
			id,
			strconv.Itoa(dept.Total),
			strconv.FormatInt(dept.TotalQuantity, 10),
			strconv.Itoa(dept.DistinctParts),
		}); err != nil {
			return err
		}
	}
	if r.Overall != nil {
		return w.Write([]string{
			"ALL",
			strconv.Itoa(r.Overall.Total),
			strconv.FormatInt(r.Overall.TotalQuantity, 10),
			strconv.Itoa(r.Overall.DistinctParts),
		})
	}
	return nil
}
