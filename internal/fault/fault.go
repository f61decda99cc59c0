// Package fault defines the typed failures returned by every network-facing
// component. Callers branch on Kind instead of matching error strings.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind identifies the category of a fault.
type Kind string

const (
	KindNone          Kind = ""
	KindConfiguration Kind = "configuration"
	KindTimeout       Kind = "timeout"
	KindHTTP          Kind = "http"
	KindTransport     Kind = "transport"
	KindDecode        Kind = "decode"
	KindLookupMiss    Kind = "lookup_miss"
)

// Fault is a classified failure of a single operation.
type Fault struct {
	Kind       Kind
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (f *Fault) Error() string {
	var b strings.Builder
	if f.Op != "" {
		b.WriteString(f.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(f.Kind))
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", f.StatusCode)
	}
	if f.Detail != "" {
		b.WriteString(": ")
		b.WriteString(f.Detail)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Configuration reports a missing or invalid setting.
func Configuration(op, detail string) *Fault {
	return &Fault{Kind: KindConfiguration, Op: op, Detail: detail}
}

// Timeout reports a call that exceeded its deadline.
func Timeout(op string, err error) *Fault {
	return &Fault{Kind: KindTimeout, Op: op, Err: err}
}

// HTTP reports a non-2xx response. Detail carries the server-provided
// message when one was present.
func HTTP(op string, statusCode int, detail string) *Fault {
	return &Fault{Kind: KindHTTP, Op: op, StatusCode: statusCode, Detail: detail}
}

// Decode reports a response body that could not be parsed.
func Decode(op string, err error) *Fault {
	return &Fault{Kind: KindDecode, Op: op, Err: err}
}

// LookupMiss reports an id absent from a name table.
func LookupMiss(op, detail string) *Fault {
	return &Fault{Kind: KindLookupMiss, Op: op, Detail: detail}
}

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(op string, err error) *Fault {
	if IsTimeout(err) {
		return Timeout(op, err)
	}
	return &Fault{Kind: KindTransport, Op: op, Err: err}
}

// IsTimeout reports whether err (or anything in its chain) is a deadline or
// network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"i/o timeout",
		"tls handshake timeout",
		"client.timeout exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// KindOf returns the kind of the first Fault in err's chain, or KindNone.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindNone
}

// Is reports whether err carries a Fault of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var f *Fault
	if errors.As(err, &f) {
		return f.StatusCode
	}
	return 0
}
