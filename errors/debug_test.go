// +build debug

package errors_test

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/kr/pretty"

	"shadowfs.io/errors"
)

var errorLines = strings.Split(strings.TrimSpace(`
	.*/shadowfs.io/errors/debug_test.go:\d+: shadowfs.io/errors_test..*
	.*/shadowfs.io/errors/debug_test.go:\d+: .*
	.*/shadowfs.io/errors/debug_test.go:\d+: .*
	backing key unreachable
`), "\n")

var errorLineREs = make([]*regexp.Regexp, len(errorLines))

func init() {
	for i, s := range errorLines {
		errorLineREs[i] = regexp.MustCompile(fmt.Sprintf("^%s$", s))
	}
}

// Test that the error stack includes all the function calls between where it
// was generated and where it was printed. It should not include the name
// of the function in which the Error method is called. It should coalesce
// the call stacks of nested errors into one single stack, and present that
// stack before the other error values.
func TestDebug(t *testing.T) {
	got := printErr(t, func1())
	lines := strings.Split(got, "\n")
	ok := true
	for i, re := range errorLineREs {
		if i >= len(lines) {
			// Handled by line number check.
			break
		}
		if !re.MatchString(lines[i]) {
			t.Errorf("error does not match at line %v, got:\n\t%q\nwant:\n\t%q", i, lines[i], re)
			ok = false
		}
	}
	// Check number of lines after checking the lines themselves,
	// as the content check will likely be more illuminating.
	if got, want := len(lines), len(errorLines); got != want {
		t.Errorf("got %v lines of errors, want %v", got, want)
		ok = false
	}
	if !ok {
		t.Logf("full line-by-line diff:\n%s", strings.Join(pretty.Diff(errorLines, lines), "\n"))
	}
}

func printErr(t *testing.T, err error) string {
	return err.Error()
}

func func1() error {
	var g gateway
	return g.fetchKey()
}

type gateway struct{}

func (gateway) fetchKey() error {
	return errors.E("fetchKey", "/backing/file", func2())
}

func func2() error {
	return errors.Str("backing key unreachable")
}
