package models

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// TestElement is the markup of one test inside a request body
type TestElement struct {
	XMLName   xml.Name `xml:"test"`
	Name      string   `xml:"name,attr"`
	Driver    string   `xml:"testDriver"`
	Libraries []string `xml:"library"`
}

// TestRequest is the markup of a whole request body
type TestRequest struct {
	XMLName xml.Name      `xml:"testRequest"`
	Author  string        `xml:"author,omitempty"`
	Tests   []TestElement `xml:"test"`
}

// Body renders the request markup
func (r *TestRequest) Body() (string, error) {
	data, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode test request")
	}
	return string(data), nil
}

// Unit converts the element into a test unit, driver first
func (e TestElement) Unit() TestUnit {
	files := make([]string, 0, 1+len(e.Libraries))
	files = append(files, strings.TrimSpace(e.Driver))
	for _, lib := range e.Libraries {
		files = append(files, strings.TrimSpace(lib))
	}
	return TestUnit{Name: e.Name, Files: files}
}

// ParseTestRequest extracts the test units of a request body.
// Test elements are found at any depth, in document order.
func ParseTestRequest(body string) ([]TestUnit, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	var units []TestUnit
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "malformed test request")
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "test" {
			continue
		}
		var elem TestElement
		if err := dec.DecodeElement(&elem, &start); err != nil {
			return nil, errors.Wrap(err, "malformed test element")
		}
		if elem.Name == "" {
			return nil, errors.New("test element has no name")
		}
		if strings.TrimSpace(elem.Driver) == "" {
			return nil, errors.Errorf("test %q has no driver", elem.Name)
		}
		units = append(units, elem.Unit())
	}
	return units, nil
}

// ArtifactNames returns every distinct artifact referenced by units, in first use order
func ArtifactNames(units []TestUnit) []string {
	seen := make(map[string]bool)
	var names []string
	for _, u := range units {
		for _, f := range u.Files {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			names = append(names, f)
		}
	}
	return names
}
