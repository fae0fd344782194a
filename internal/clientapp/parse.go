package clientapp

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/pkg/errors"
)

// ReadCSV reads records from a csv file at given path
func ReadCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return [][]string{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return [][]string{}, err
	}
	return records, nil
}

// ParseRecords parses a test plan of rows "set, test name, driver, [libraries]" into test sets.
// A row with an empty set column adds its test to the previous set.
func ParseRecords(records [][]string) ([]*TestSet, error) {
	testSets := make([]*TestSet, 0)

	// Process records
	for i, record := range records {
		if i == 0 {
			continue // skip header row
		}
		if len(record) < 3 {
			return []*TestSet{}, errors.New("invalid test plan row: " + strings.Join(record, ","))
		}

		// If set number is new, create new test set
		if record[0] != "" {
			setNumber, err := strconv.ParseInt(record[0], 10, 64)
			if err != nil {
				return []*TestSet{}, err
			}
			testSets = append(testSets, &TestSet{SetNumber: setNumber})
		}
		if len(testSets) == 0 {
			return []*TestSet{}, errors.New("test plan does not start with a set number")
		}
		currentTestSet := testSets[len(testSets)-1]

		test := models.TestElement{
			Name:   strings.TrimSpace(record[1]),
			Driver: strings.TrimSpace(record[2]),
		}
		if test.Name == "" || test.Driver == "" {
			return []*TestSet{}, errors.New("invalid test plan row: " + strings.Join(record, ","))
		}
		if len(record) > 3 {
			test.Libraries = parseListString(record[3])
		}
		currentTestSet.Tests = append(currentTestSet.Tests, test)
	}
	return testSets, nil
}

// parseListString parses a string representation of a list of names of the format "[a, b, c]"
func parseListString(s string) []string {
	names := make([]string, 0)

	cleanedString := strings.Trim(s, "[]\" ")
	if cleanedString == "" {
		return names
	}

	for _, n := range strings.Split(cleanedString, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
