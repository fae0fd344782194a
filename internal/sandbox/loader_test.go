package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/stretchr/testify/require"
)

var artifacts = map[string]string{
	"td1.go": `package main

func NewTestDriver() (func() bool, func() string) {
	ran := false
	test := func() bool {
		ran = true
		return Add(2, 3) == 5 && Upper("ok") == "OK"
	}
	getLog := func() string {
		if ran {
			return "td1 ran"
		}
		return "td1 idle"
	}
	return test, getLog
}
`,
	"t1.go": `package main

func Add(a, b int) int { return a + b }
`,
	"t2.go": `package main

import "strings"

func Upper(s string) string { return strings.ToUpper(s) }
`,
	"td3.go": `package main

func NewTestDriver() (func() bool, func() string) {
	return func() bool { return Twice(4) == 8 }, func() string { return "td3 ran" }
}
`,
	"t3.go": `package main

func Twice(a int) int { return Add(a, a) }
`,
	"badlib.go": `package main

func Broken() int { return missingName }
`,
	"fails.go": `package main

func NewTestDriver() (func() bool, func() string) {
	return func() bool { return false }, func() string { return "expected failure" }
}
`,
	"panics.go": `package main

func NewTestDriver() (func() bool, func() string) {
	return func() bool { panic("boom") }, func() string { return "panicked" }
}
`,
	"badctor.go": `package main

func NewTestDriver() (func() bool, func() string) {
	panic("cannot construct")
}
`,
	"nodriver.go": `package main

func Helper() int { return 1 }
`,
	"broken.go": `package main

func NewTestDriver( {
`,
	"exits.go": `package main

import "os"

func NewTestDriver() (func() bool, func() string) {
	return func() bool { os.Exit(3); return true }, func() string { return "" }
}
`,
}

func stageArtifacts(t *testing.T, names ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Fawcett_key")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(artifacts[name]), 0644))
	}
	return dir
}

func TestLoaderPasses(t *testing.T) {
	dir := stageArtifacts(t, "td1.go", "t1.go", "t2.go")

	var events []Progress
	loader := CreateLoader(dir, func(p Progress) { events = append(events, p) })
	set := loader.Test([]models.TestUnit{{Name: "test1", Files: []string{"td1.go", "t1.go", "t2.go"}}})

	require.Equal(t, "Fawcett_key", set.TestKey)
	require.False(t, set.Timestamp.IsZero())
	require.Equal(t, []models.TestResult{{TestName: "test1", Status: models.Passed, Log: "td1 ran"}}, set.Results)
	require.Equal(t, []Progress{{TestName: "test1", Driver: "td1.go", Passed: true}}, events)
	require.Equal(t, "td1.go passed", events[0].String())
}

func TestLoaderFaultContainment(t *testing.T) {
	dir := stageArtifacts(t, "td1.go", "t1.go", "t2.go", "fails.go", "panics.go")

	loader := CreateLoader(dir, nil)
	set := loader.Test([]models.TestUnit{
		{Name: "panics", Files: []string{"panics.go"}},
		{Name: "fails", Files: []string{"fails.go"}},
		{Name: "test1", Files: []string{"td1.go", "t1.go", "t2.go"}},
	})

	require.Equal(t, []models.TestResult{
		{TestName: "panics", Status: models.Failed, Log: "panicked"},
		{TestName: "fails", Status: models.Failed, Log: "expected failure"},
		{TestName: "test1", Status: models.Passed, Log: "td1 ran"},
	}, set.Results)
}

func TestLoaderMissingDriver(t *testing.T) {
	dir := stageArtifacts(t, "t1.go", "nodriver.go", "broken.go")

	var events []Progress
	loader := CreateLoader(dir, func(p Progress) { events = append(events, p) })
	set := loader.Test([]models.TestUnit{
		{Name: "missing", Files: []string{"td1.go", "t1.go"}},
		{Name: "nodriver", Files: []string{"nodriver.go"}},
		{Name: "broken", Files: []string{"broken.go"}},
	})

	for _, r := range set.Results {
		require.Equal(t, models.Failed, r.Status, r.TestName)
		require.Equal(t, NotLoadedLog, r.Log, r.TestName)
	}
	require.Len(t, events, 3)
	require.Equal(t, "td1.go: failed", events[0].String())
}

func TestLoaderSkipsFailingCandidate(t *testing.T) {
	dir := stageArtifacts(t, "badctor.go", "td1.go", "t1.go", "t2.go")

	set := CreateLoader(dir, nil).Test([]models.TestUnit{
		{Name: "test1", Files: []string{"badctor.go", "td1.go", "t1.go", "t2.go"}},
	})
	require.Equal(t, models.Passed, set.Results[0].Status)
	require.Equal(t, "td1 ran", set.Results[0].Log)
}

func TestLoaderReportPanicIsSwallowed(t *testing.T) {
	dir := stageArtifacts(t, "fails.go")

	set := CreateLoader(dir, func(Progress) { panic("listener gone") }).Test([]models.TestUnit{
		{Name: "fails", Files: []string{"fails.go"}},
	})
	require.Len(t, set.Results, 1)
	require.Equal(t, models.Failed, set.Results[0].Status)
}

func TestLoaderLibraryOrder(t *testing.T) {
	dir := stageArtifacts(t, "td3.go", "t1.go", "t3.go")

	set := CreateLoader(dir, nil).Test([]models.TestUnit{
		{Name: "forward", Files: []string{"td3.go", "t1.go", "t3.go"}},
		{Name: "reverse", Files: []string{"td3.go", "t3.go", "t1.go"}},
	})
	require.Equal(t, []models.TestResult{
		{TestName: "forward", Status: models.Passed, Log: "td3 ran"},
		{TestName: "reverse", Status: models.Passed, Log: "td3 ran"},
	}, set.Results)
}

func TestLoaderDropsLibraryThatDoesNotCompile(t *testing.T) {
	dir := stageArtifacts(t, "td3.go", "t1.go", "t3.go", "badlib.go")

	set := CreateLoader(dir, nil).Test([]models.TestUnit{
		{Name: "test3", Files: []string{"td3.go", "badlib.go", "t3.go", "t1.go"}},
	})
	require.Equal(t, models.Passed, set.Results[0].Status)
	require.Equal(t, "td3 ran", set.Results[0].Log)
}

func TestMergeSources(t *testing.T) {
	parts := []artifact{
		{name: "t2.go", imports: []string{`"strings"`}, body: "\n\nfunc Upper(s string) string { return strings.ToUpper(s) }\n"},
		{name: "td.go", imports: []string{`"strings"`, `str "strconv"`}, body: "\n\nfunc Itoa(i int) string { return str.Itoa(i) }\n"},
	}
	src := mergeSources("main", parts)

	require.Equal(t, 1, strings.Count(src.text, `"strings"`))
	require.Contains(t, src.text, "\tstr \"strconv\"\n")
	require.Len(t, src.starts, 2)

	lines := strings.Split(src.text, "\n")
	require.Equal(t, "func Upper(s string) string { return strings.ToUpper(s) }", lines[src.starts[0]+1])
	require.Equal(t, "func Itoa(i int) string { return str.Itoa(i) }", lines[src.starts[1]+1])

	for i, start := range src.starts {
		n, ok := src.partAt(fmt.Errorf("_.go:%d:5: undefined: x", start+2))
		require.True(t, ok)
		require.Equal(t, i, n)
	}
	_, ok := src.partAt(fmt.Errorf("2:1: syntax error"))
	require.False(t, ok)
	_, ok = src.partAt(fmt.Errorf("no position"))
	require.False(t, ok)
}
