package service

import (
	"bufio"
	"io"
	"strings"

	"github.com/AnTengye/sigscan/model"
)

// ExportFilename is the download name of the medications export.
const ExportFilename = "medications.csv"

const csvHeader = "Medication,SIG Code,Dosage,Frequency,Quantity,Refills,Purpose"

// WriteMedicationsCSV writes one row per record under a fixed header. Every
// data field is double-quoted; a null purpose is written as an empty field.
func WriteMedicationsCSV(w io.Writer, records []model.MedicationRecord) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(csvHeader + "\n"); err != nil {
		return err
	}
	for _, r := range records {
		fields := []string{
			r.Medication,
			r.SigCode,
			r.Dosage,
			r.Frequency,
			r.Quantity,
			r.Refills,
			r.PurposeOrEmpty(),
		}
		for i, f := range fields {
			fields[i] = quoteField(f)
		}
		if _, err := bw.WriteString(strings.Join(fields, ",") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// quoteField wraps f in double quotes, doubling embedded quotes.
func quoteField(f string) string {
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}
