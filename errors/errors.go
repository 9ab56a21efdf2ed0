// Package errors defines the structured error type shared by every shadowfs
// component. It lets a caller deep in the File-Pair Manager or the Crypto
// Gateway attach a Kind that the VFS callback layer can later turn into the
// right errno, without those packages importing bazil.org/fuse themselves.
package errors

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	"shadowfs.io/log"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Path is the path of the item being accessed (a backing, scratch,
	// or configuration file path, as the caller supplies it).
	Path string
	// Op is the operation being performed, usually the name of the
	// method being invoked (Read, Write, Open, ...).
	Op string
	// Kind is the class of error, such as permission failure,
	// or Other if its class is unknown or irrelevant.
	Kind Kind
	// Err is the underlying error that triggered this one, if any.
	Err error

	stack
}

var _ error = (*Error)(nil)

// isZero reports whether e carries no information at all.
func (e *Error) isZero() bool {
	return e.Path == "" && e.Op == "" && e.Kind == Other && e.Err == nil
}

// Separator is the string used to separate nested errors. By default,
// nested errors are indented on a new line to make them easier on the eye.
var Separator = ":\n\t"

// Kind defines the kind of error this is, mostly for use by the VFS
// callback layer, which must map every error to a POSIX errno.
type Kind uint8

// Kinds of errors.
const (
	Other          Kind = iota // Unclassified error.
	Invalid                    // Invalid operation or argument for this item.
	Permission                 // Permission denied.
	Syntax                     // Ill-formed argument such as an invalid path.
	IO                         // External I/O error such as a backing-store syscall failure.
	Exist                      // Item already exists.
	NotExist                   // Item does not exist.
	IsDir                      // Item is a directory.
	NotDir                     // Item is not a directory.
	NotEmpty                   // Directory not empty.
	NameTooLong                // Translated path exceeds the fixed buffer.
	KeyUnavailable             // The Crypto Gateway could not obtain a file key.
	CryptoFailed               // The cipher reported a fault mid-transform.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case Permission:
		return "permission denied"
	case Syntax:
		return "syntax error"
	case IO:
		return "I/O error"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case IsDir:
		return "item is a directory"
	case NotDir:
		return "item is not a directory"
	case NotEmpty:
		return "directory not empty"
	case NameTooLong:
		return "name too long"
	case KeyUnavailable:
		return "key unavailable"
	case CryptoFailed:
		return "crypto transform failed"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	string
//		The path of the item being accessed, if it contains a
//		path separator; otherwise the operation being performed.
//	errors.Kind
//		The class of error, such as a permission failure.
//	error
//		The underlying error that triggered this one.
//
// If Kind is unset or Other, it is set to the Kind of the underlying
// error, if any.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if strings.ContainsRune(arg, '/') {
				e.Path = arg
			} else {
				e.Op = arg
			}
		case Kind:
			e.Kind = arg
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("errors.E: unknown type %T, value %v in error call", arg, arg)
		}
	}
	e.populateStack()

	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplication so
	// the message doesn't repeat the same path or kind twice.
	if prev.Path == e.Path {
		prev.Path = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	e.printStack(b)
	if e.Path != "" {
		pad(b, ": ")
		b.WriteString(e.Path)
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prevErr, ok := e.Err.(*Error); ok {
			if !prevErr.isZero() {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Is reports whether err is an *Error of the given Kind, or wraps one.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		return Is(kind, e.Err)
	}
	return false
}

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows callers to import only this
// package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}
