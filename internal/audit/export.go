package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports records as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports records as a JSON array.
	ExportFormatJSON ExportFormat = "json"
	// ExportFormatCBOR exports records as a compact CBOR array, for archival
	// sweeps where export size matters.
	ExportFormatCBOR ExportFormat = "cbor"
)

// ExportOptions configures audit export parameters.
type ExportOptions struct {
	Format   ExportFormat // Export format (csv, json, or cbor)
	AfterSeq uint64       // Export records with SequenceID > AfterSeq
	Limit    int          // Maximum number of records (0 = DefaultPageSize)
}

// ExportRecords exports audit records in sequence order.
// Returns the exported data as bytes in the requested format.
func ExportRecords(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	switch opts.Format {
	case ExportFormatCSV, ExportFormatJSON, ExportFormatCBOR:
	default:
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	records, err := repo.Range(ctx, opts.AfterSeq, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(records)
	case ExportFormatCBOR:
		return cbor.Marshal(records)
	default:
		return json.MarshalIndent(records, "", "  ")
	}
}

// exportToCSV exports audit records to CSV format.
func exportToCSV(records []*Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"Sequence ID",
		"Timestamp (UTC)",
		"Subject ID",
		"Actor",
		"Action",
		"Details",
		"Previous Hash",
		"Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.SequenceID, 10),
			record.CreatedAt.Format(time.RFC3339),
			record.SubjectID,
			record.Actor,
			record.Action,
			record.Details,
			record.PrevHash,
			record.Hash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
