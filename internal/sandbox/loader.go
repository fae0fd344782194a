package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const (
	// EntryPoint is the function a test driver exports:
	//	func NewTestDriver() (test func() bool, getLog func() string)
	EntryPoint = "NewTestDriver"

	// NotLoadedLog is the log of a unit whose driver could not be loaded
	NotLoadedLog = "file not loaded"
)

// Loader runs test units from the artifacts staged in LoadPath
type Loader struct {
	LoadPath string
	report   func(Progress)
}

type artifact struct {
	name     string
	pkg      string
	imports  []string
	body     string
	hasEntry bool
}

// unitSource is one package assembled from several artifacts.
// starts holds the first line of each artifact's declarations.
type unitSource struct {
	text   string
	starts []int
}

var errPosition = regexp.MustCompile(`^(?:.*?:)?(\d+):\d+: `)

type driver struct {
	test   func() bool
	getLog func() string
}

// CreateLoader creates a loader; report may be nil
func CreateLoader(loadPath string, report func(Progress)) *Loader {
	return &Loader{LoadPath: loadPath, report: report}
}

// Test runs every unit in order and returns their results
func (l *Loader) Test(units []models.TestUnit) *models.TestResultSet {
	set := &models.TestResultSet{TestKey: filepath.Base(l.LoadPath)}
	for _, unit := range units {
		set.Results = append(set.Results, l.runUnit(unit))
	}
	set.Timestamp = time.Now()
	return set
}

func (l *Loader) runUnit(unit models.TestUnit) models.TestResult {
	result := models.TestResult{TestName: unit.Name, Status: models.Failed, Log: NotLoadedLog}

	var libs, candidates []artifact
	for _, name := range unit.Files {
		a, err := l.load(name)
		if err != nil {
			log.Warnf("[Loader] %s: %s %s: %v", unit.Name, name, NotLoadedLog, err)
			continue
		}
		if a.hasEntry {
			candidates = append(candidates, a)
		} else {
			libs = append(libs, a)
		}
	}

	var drv *driver
	for _, c := range candidates {
		d, err := instantiate(libs, c)
		if err != nil {
			log.Warnf("[Loader] %s: skipping %s: %v", unit.Name, c.name, err)
			continue
		}
		drv = d
		break
	}
	if drv == nil {
		log.Warnf("[Loader] %s: no test driver found", unit.Name)
		l.notify(Progress{TestName: unit.Name, Driver: unit.Driver(), Passed: false})
		return result
	}

	if invoke(drv.test) {
		result.Status = models.Passed
	}
	result.Log = readLog(drv.getLog)
	l.notify(Progress{TestName: unit.Name, Driver: unit.Driver(), Passed: result.Status == models.Passed})
	return result
}

// load reads and parses one staged artifact
func (l *Loader) load(name string) (artifact, error) {
	data, err := os.ReadFile(filepath.Join(l.LoadPath, filepath.Base(name)))
	if err != nil {
		return artifact{}, err
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, name, data, parser.SkipObjectResolution)
	if err != nil {
		return artifact{}, err
	}
	a := artifact{name: name, pkg: f.Name.Name}

	// declarations start after the package clause and the import block
	start := fset.Position(f.Name.End()).Offset
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				start = fset.Position(d.End()).Offset
			}
		case *ast.FuncDecl:
			if d.Recv == nil && d.Name.Name == EntryPoint {
				a.hasEntry = true
			}
		}
	}
	for _, spec := range f.Imports {
		imp := spec.Path.Value
		if spec.Name != nil {
			imp = spec.Name.Name + " " + imp
		}
		a.imports = append(a.imports, imp)
	}
	a.body = string(data[start:])
	return a, nil
}

// mergeSources joins artifacts of one package into a single source with a shared import block
func mergeSources(pkg string, parts []artifact) unitSource {
	var b strings.Builder
	b.WriteString("package " + pkg + "\n")

	var imports []string
	for _, a := range parts {
		for _, imp := range a.imports {
			if !slices.Contains(imports, imp) {
				imports = append(imports, imp)
			}
		}
	}
	if len(imports) > 0 {
		b.WriteString("\nimport (\n")
		for _, imp := range imports {
			b.WriteString("\t" + imp + "\n")
		}
		b.WriteString(")\n")
	}

	src := unitSource{}
	for _, a := range parts {
		b.WriteString("\n")
		src.starts = append(src.starts, strings.Count(b.String(), "\n")+1)
		b.WriteString(a.body)
	}
	src.text = b.String()
	return src
}

// partAt returns the index of the artifact an evaluation error points into
func (s unitSource) partAt(err error) (int, bool) {
	m := errPosition.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	line, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	idx := -1
	for i, start := range s.starts {
		if start <= line {
			idx = i
		}
	}
	return idx, idx >= 0
}

// instantiate evaluates the candidate together with the libraries of its package in a fresh
// interpreter and calls its entry point
func instantiate(libs []artifact, candidate artifact) (d *driver, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s panicked: %v", EntryPoint, r)
		}
	}()

	var same []artifact
	for _, lib := range libs {
		if lib.pkg == candidate.pkg {
			same = append(same, lib)
		}
	}

	// libraries that fail to compile are left out one at a time
	var i *interp.Interpreter
	for {
		i = interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			return nil, errors.Wrap(err, "failed to load stdlib symbols")
		}
		src := mergeSources(candidate.pkg, append(slices.Clone(same), candidate))
		_, evalErr := i.Eval(src.text)
		if evalErr == nil {
			break
		}
		n, ok := src.partAt(evalErr)
		if !ok || n >= len(same) {
			return nil, errors.Wrapf(evalErr, "%s", NotLoadedLog)
		}
		log.Warnf("[Loader] %s %s: %v", same[n].name, NotLoadedLog, evalErr)
		same = slices.Delete(same, n, n+1)
	}

	expr := EntryPoint
	if candidate.pkg != "main" {
		expr = candidate.pkg + "." + EntryPoint
	}
	v, err := i.Eval(expr)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() {
		return nil, errors.Errorf("%s is not defined", EntryPoint)
	}
	ctor, ok := v.Interface().(func() (func() bool, func() string))
	if !ok {
		return nil, errors.Errorf("%s has type %s", EntryPoint, v.Type())
	}
	test, getLog := ctor()
	if test == nil || getLog == nil {
		return nil, errors.Errorf("%s returned a nil function", EntryPoint)
	}
	return &driver{test: test, getLog: getLog}, nil
}

// invoke runs the test, reporting a panic as failure
func invoke(test func() bool) (passed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("[Loader] test panicked: %v", r)
			passed = false
		}
	}()
	return test()
}

func readLog(getLog func() string) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = NotLoadedLog
		}
	}()
	return getLog()
}

// notify forwards progress to the parent, ignoring any failure
func (l *Loader) notify(p Progress) {
	if l.report == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("[Loader] progress report failed: %v", r)
		}
	}()
	l.report(p)
}
