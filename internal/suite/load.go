package suite

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Load reads a golden set from JSON, YAML or CSV and normalizes it.
func Load(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("read suite: %w", err)
	}
	rows, err := parseRows(data, path)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	cases, err := Normalize(rows)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Suite{Name: name, Path: path, Cases: cases}, nil
}

// Normalize maps loosely keyed rows to test cases, assigning IDs where missing.
func Normalize(rows []map[string]string) ([]TestCase, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("suite has no test cases")
	}
	seen := make(map[string]int, len(rows))
	cases := make([]TestCase, 0, len(rows))
	for i, row := range rows {
		tc := TestCase{
			ID:       firstValue(row, idKeys),
			Question: firstValue(row, questionKeys),
			Expected: firstValue(row, expectedKeys),
		}
		if tc.Question == "" {
			return nil, fmt.Errorf("case %d: question is required", i+1)
		}
		if tc.Expected == "" {
			return nil, fmt.Errorf("case %d: expected_sql is required", i+1)
		}
		if tc.ID == "" {
			tc.ID = uuid.NewString()
		}
		if prev, ok := seen[tc.ID]; ok {
			return nil, fmt.Errorf("case %d: duplicate id %q (also case %d)", i+1, tc.ID, prev)
		}
		seen[tc.ID] = i + 1
		cases = append(cases, tc)
	}
	return cases, nil
}

func firstValue(row map[string]string, keys []string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(row[key]); value != "" {
			return value
		}
	}
	return ""
}

func parseRows(data []byte, path string) ([]map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(data)
	case ".json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return rowsFromDocument(doc)
	default:
		var doc any
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&doc); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("suite has no test cases")
			}
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return rowsFromDocument(doc)
	}
}

// rowsFromDocument accepts either a top-level list or an object with a
// "cases"/"questions" list.
func rowsFromDocument(doc any) ([]map[string]string, error) {
	var items []any
	switch value := doc.(type) {
	case []any:
		items = value
	case map[string]any:
		for _, key := range []string{"cases", "questions", "test_cases"} {
			if list, ok := value[key].([]any); ok {
				items = list
				break
			}
		}
		if items == nil {
			return nil, fmt.Errorf("expected a list of cases")
		}
	default:
		return nil, fmt.Errorf("expected a list of cases")
	}
	rows := make([]map[string]string, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("case %d: expected an object", i+1)
		}
		row := make(map[string]string, len(obj))
		for key, raw := range obj {
			if raw == nil {
				continue
			}
			row[strings.ToLower(key)] = fmt.Sprint(raw)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSV(data []byte) ([]map[string]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("suite has no test cases")
	}
	header := records[0]
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
