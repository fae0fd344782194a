package clientapp

import "github.com/mavleo96/remote-test-harness/internal/models"

// TestSet is one request of a test plan: a set number and the tests submitted together
type TestSet struct {
	SetNumber int64
	Tests     []models.TestElement
}

// Artifacts returns every file named by the set, drivers and libraries
func (s *TestSet) Artifacts() []string {
	units := make([]models.TestUnit, 0, len(s.Tests))
	for _, t := range s.Tests {
		units = append(units, t.Unit())
	}
	return models.ArtifactNames(units)
}

// Outcome is the reply received for one test set
type Outcome struct {
	SetNumber int64
	Results   *models.TestResultSet
	LogFiles  []string
}
