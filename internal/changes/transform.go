package changes

import "fmt"

// Record is one typed, hashed source row.
type Record struct {
	// SourceRowIndex is 1-based within the data region (header excluded).
	SourceRowIndex int64
	Values         []any
	Hash           string
}

// TransformOptions controls how raw rows become records.
type TransformOptions struct {
	HasHeader bool
	// KeepBlankRows emits records for rows with no mapped values. Blank rows
	// always consume an index either way.
	KeepBlankRows bool
}

// Result is the output of Transform.
type Result struct {
	Records []Record
	// Mappings carries the resolved types after inference.
	Mappings []Mapping
	// Missing lists mapping sources absent from the header.
	Missing []string
}

// Transform resolves mappings against the raw rows, infers auto types, and
// produces one hashed Record per non-blank data row.
func Transform(rows [][]any, mappings []Mapping, opts TransformOptions) (*Result, error) {
	mappings, err := Normalize(mappings)
	if err != nil {
		return nil, err
	}
	var header []any
	data := rows
	if opts.HasHeader {
		if len(rows) > 0 {
			header = rows[0]
			data = rows[1:]
		} else {
			header = []any{}
		}
	}
	mapper := NewMapper(mappings, header)
	missing := mapper.Missing()
	if len(missing) == len(mappings) && len(data) > 0 {
		return nil, fmt.Errorf("changes: none of the mapped source columns %v were found", missing)
	}
	resolved := InferTypes(mappings, mapper, data)

	records := make([]Record, 0, len(data))
	for i, row := range data {
		values := make([]any, len(resolved))
		blank := true
		for j, m := range resolved {
			values[j] = Coerce(mapper.Cell(row, j), m.Type)
			if values[j] != nil {
				blank = false
			}
		}
		if blank && !opts.KeepBlankRows {
			continue
		}
		records = append(records, Record{
			SourceRowIndex: int64(i + 1),
			Values:         values,
			Hash:           Hash(values),
		})
	}
	return &Result{Records: records, Mappings: resolved, Missing: missing}, nil
}
