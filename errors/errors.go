// Package errors defines the error handling used by the dubbo client.
//
// Every error that leaves a package of this module is an *Error carrying the
// operation that failed and a Kind that callers can branch on with Is. The
// underlying cause, if any, is kept in Err and is reachable through Unwrap.
package errors

import (
	"bytes"
	goerrors "errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// Error is the type that implements the error interface.
// An Error value may leave some values unset.
type Error struct {
	// Op is the operation being performed, usually the name of the
	// function or method being invoked (processor.Execute, endpoint.Parse, ...).
	Op string
	// Kind is the class of error, or Other if its class is unknown or irrelevant.
	Kind Kind
	// Addr is the provider address involved, if any.
	Addr string
	// The underlying error that triggered this one, if any.
	Err error
}

// Separator is the string used to separate nested errors.
var Separator = ": "

// Kind defines the kind of error this is.
type Kind uint8

// Kinds of errors.
const (
	Other                    Kind = iota // Unclassified error. This value is not printed in the error message.
	InvalidEndpoint                      // Malformed provider URL.
	ConnectionFailed                     // All provider candidates exhausted.
	SendFailed                           // Request could not be written.
	ReceiveTimeout                       // Response did not arrive in time.
	PeerClosed                           // Provider closed the connection.
	SequenceMismatch                     // Response sequence differs from the request's.
	ProviderError                        // Provider answered with a failure.
	UnsupportedSerialization             // Serialization code not recognized.
	MisconfiguredClient                  // Client used before group, version and service are set.
	DecodeFailed                         // Frame or body could not be decoded.
	InvocationFailed                     // Call failed at the client facade.
	Registry                             // Registry backend failure.
	PoolExhausted                        // No pooled connection became available in time.
	IO                                   // External I/O error such as an unusable network.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case InvalidEndpoint:
		return "invalid endpoint"
	case ConnectionFailed:
		return "connection failed"
	case SendFailed:
		return "send failed"
	case ReceiveTimeout:
		return "receive timeout"
	case PeerClosed:
		return "peer closed connection"
	case SequenceMismatch:
		return "sequence mismatch"
	case ProviderError:
		return "provider error"
	case UnsupportedSerialization:
		return "unsupported serialization"
	case MisconfiguredClient:
		return "misconfigured client"
	case DecodeFailed:
		return "decode failed"
	case InvocationFailed:
		return "invocation failed"
	case Registry:
		return "registry error"
	case PoolExhausted:
		return "pool exhausted"
	case IO:
		return "I/O error"
	}
	return "unknown error kind"
}

// Addr is the provider address argument accepted by E.
type Addr string

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	string
//		The operation being performed.
//	errors.Kind
//		The class of error.
//	errors.Addr
//		The provider address involved.
//	error
//		The underlying error that triggered this one.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case Addr:
			e.Addr = string(arg)
		case *Error:
			c := *arg
			e.Err = &c
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			zap.L().Error("errors.E: bad call", zap.String("file", file), zap.Int("line", line), zap.Any("args", args))
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}
	if prev.Addr == e.Addr {
		prev.Addr = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	// If this error has Kind unset or Other, pull up the inner one.
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) isZero() bool {
	return e.Op == "" && e.Kind == 0 && e.Addr == "" && e.Err == nil
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		pad(b, Separator)
		b.WriteString(e.Op)
	}
	if e.Addr != "" {
		pad(b, Separator)
		b.WriteString(e.Addr)
	}
	if e.Kind != 0 {
		pad(b, Separator)
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prev, ok := e.Err.(*Error); ok {
			if !prev.isZero() {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, Separator)
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
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

// Errorf is equivalent to fmt.Errorf, but allows clients to import only
// this package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *Error of the given Kind, at any depth of
// the wrapping chain. If err is nil then Is returns false.
func Is(kind Kind, err error) bool {
	for err != nil {
		var e *Error
		if !goerrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Message returns the innermost text of err: the provider's message for a
// ProviderError, the cause for anything else.
func Message(err error) string {
	for {
		e, ok := err.(*Error)
		if !ok || e.Err == nil {
			break
		}
		err = e.Err
	}
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind.String()
	}
	return err.Error()
}

// AddrOf returns the outermost provider address recorded in err's chain,
// or "" if there is none.
func AddrOf(err error) string {
	for err != nil {
		var e *Error
		if !goerrors.As(err, &e) {
			return ""
		}
		if e.Addr != "" {
			return e.Addr
		}
		err = e.Err
	}
	return ""
}
