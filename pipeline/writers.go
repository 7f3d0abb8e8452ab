package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/aluiziolira/go-scrape-policies/models"
)

var (
	policyHeader = []string{"airline_name", "website_link", "phone_number", "pets_in_cabin", "pets_in_checked_baggage", "pets_in_cargo", "carrier_guidelines", "other_restrictions", "source_url", "error"}
	assetHeader  = []string{"filename", "label", "downloaded", "source_url", "error"}
)

// ExportCSV writes records as a flat CSV file at path (relative to the
// output directory). Records of an unknown type are rejected.
func (s *JSONStore) ExportCSV(path string, records []models.Record) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := policyHeader
	if len(records) > 0 {
		if _, ok := records[0].(*models.AssetRecord); ok {
			header = assetHeader
		}
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		var row []string
		switch r := rec.(type) {
		case *models.PolicyRecord:
			row = []string{
				r.AirlineName,
				r.WebsiteLink,
				r.PhoneNumber,
				r.PetsInCabin,
				r.PetsInCheckedBaggage,
				r.PetsInCargo,
				r.CarrierGuidelines,
				r.OtherRestrictions,
				r.SourceURL,
				errorText(r.Error),
			}
		case *models.AssetRecord:
			row = []string{
				r.Filename,
				r.Label,
				strconv.FormatBool(r.Downloaded),
				r.SourceURL,
				errorText(r.Error),
			}
		default:
			return fmt.Errorf("csv export: unsupported record type %T", rec)
		}
		if len(row) != len(header) {
			return fmt.Errorf("csv export: mixed record types")
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	if err := writeFileAtomic(resolvePath(s.dir, path), buf.Bytes()); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

func errorText(e *models.RecordError) string {
	if e == nil {
		return ""
	}
	return e.Error()
}
