package models

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RecordDelimiter separates results in a persisted record
const RecordDelimiter = "-----------------------------"

// Status is the outcome of a test unit
type Status int

const (
	Failed Status = iota
	Passed
)

// String returns the textual status used in records and replies
func (s Status) String() string {
	if s == Passed {
		return "passed"
	}
	return "failed"
}

// ParseStatus is the inverse of Status.String
func ParseStatus(s string) Status {
	if strings.EqualFold(strings.TrimSpace(s), "passed") {
		return Passed
	}
	return Failed
}

// TestUnit is one named test: a driver artifact followed by its libraries
type TestUnit struct {
	Name  string   `msgpack:"name"`
	Files []string `msgpack:"files"`
}

// Driver returns the driver artifact name
func (u TestUnit) Driver() string {
	if len(u.Files) == 0 {
		return ""
	}
	return u.Files[0]
}

// TestResult is the outcome of one test unit
type TestResult struct {
	TestName string `msgpack:"test_name"`
	Status   Status `msgpack:"status"`
	Log      string `msgpack:"log"`
}

// TestResultSet holds the results of all units of one request
type TestResultSet struct {
	TestKey   string       `msgpack:"test_key"`
	Timestamp time.Time    `msgpack:"timestamp"`
	Results   []TestResult `msgpack:"results"`
}

// LogName returns the name under which the record is persisted
func (s *TestResultSet) LogName() string {
	return s.TestKey + ".txt"
}

// Passed reports whether every result passed
func (s *TestResultSet) Passed() bool {
	for _, r := range s.Results {
		if r.Status != Passed {
			return false
		}
	}
	return len(s.Results) > 0
}

// Record renders the flat text record persisted in the repository
func (s *TestResultSet) Record() string {
	var b strings.Builder
	b.WriteString(s.LogName())
	b.WriteString("\n")
	for _, r := range s.Results {
		b.WriteString(RecordDelimiter + "\n")
		b.WriteString(r.TestName + "\n")
		b.WriteString(r.Status.String() + "\n")
		b.WriteString(r.Log + "\n")
	}
	b.WriteString(RecordDelimiter + "\n")
	return b.String()
}

type resultElement struct {
	TestName string `xml:"testName"`
	Result   string `xml:"result"`
	Log      string `xml:"log"`
}

type resultsMessage struct {
	XMLName   xml.Name        `xml:"testResultsMsg"`
	TestKey   string          `xml:"testKey"`
	TimeStamp string          `xml:"timeStamp"`
	Results   []resultElement `xml:"testResults>testResult"`
}

// Body renders the result set as the body of a reply message
func (s *TestResultSet) Body() (string, error) {
	msg := resultsMessage{
		TestKey:   s.TestKey,
		TimeStamp: s.Timestamp.Format(time.RFC3339Nano),
	}
	for _, r := range s.Results {
		msg.Results = append(msg.Results, resultElement{
			TestName: r.TestName,
			Result:   r.Status.String(),
			Log:      r.Log,
		})
	}
	data, err := xml.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode test results")
	}
	return string(data), nil
}

// ParseTestResults decodes a reply body into a result set
func ParseTestResults(body string) (*TestResultSet, error) {
	var msg resultsMessage
	if err := xml.Unmarshal([]byte(body), &msg); err != nil {
		return nil, errors.Wrap(err, "failed to decode test results")
	}
	set := &TestResultSet{TestKey: msg.TestKey}
	if msg.TimeStamp != "" {
		t, err := time.Parse(time.RFC3339Nano, msg.TimeStamp)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid result timestamp %q", msg.TimeStamp)
		}
		set.Timestamp = t
	}
	for _, r := range msg.Results {
		set.Results = append(set.Results, TestResult{
			TestName: r.TestName,
			Status:   ParseStatus(r.Result),
			Log:      r.Log,
		})
	}
	return set, nil
}
