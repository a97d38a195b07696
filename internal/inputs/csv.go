package inputs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadCSV loads a table from a CSV file whose first row is the header.
func ReadCSV(filename string) (Table, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	t, err := ReadCSVFrom(file)
	if err != nil {
		return Table{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	return t, nil
}

// ReadCSVFrom reads a table from r. Every row must have as many fields as the
// header.
func ReadCSVFrom(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, errors.New("empty file, expected a header row")
		}
		return Table{}, fmt.Errorf("failed to read header: %w", err)
	}

	t := NewTable(header...)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("error reading row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes the table, header first, to filename.
func WriteCSV(filename string, t Table) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", filename, err)
	}
	if err := WriteCSVTo(file, t); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return file.Close()
}

// WriteCSVTo writes the table to w.
func WriteCSVTo(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("error writing rows: %w", err)
	}
	return writer.Error()
}
