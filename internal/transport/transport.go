// Package transport hands forwarded messages to the device that sends them.
package transport

import (
	"context"
	"errors"
)

// ErrBreakerOpen is reported when the gateway breaker rejects a send.
var ErrBreakerOpen = errors.New("transport: circuit breaker open")

// ResultCode is the outcome the device reports for one send.
type ResultCode string

const (
	CodeOK                   ResultCode = "OK"
	CodeGenericFailure       ResultCode = "GENERIC_FAILURE"
	CodeNoService            ResultCode = "NO_SERVICE"
	CodeRadioOff             ResultCode = "RADIO_OFF"
	CodeNullPDU              ResultCode = "NULL_PDU"
	CodeLimitExceeded        ResultCode = "LIMIT_EXCEEDED"
	CodeInvalidAddress       ResultCode = "INVALID_ADDRESS"
	CodeTimeout              ResultCode = "TIMEOUT"
	CodeTransportUnavailable ResultCode = "TRANSPORT_UNAVAILABLE"
)

type classification struct {
	success   bool
	retryable bool
}

// codeClasses decides what the dispatcher does with each code. Every
// failure is retried up to the queue's ceiling; flip retryable here to make a
// code fail the job at once.
var codeClasses = map[ResultCode]classification{
	CodeOK:                   {success: true},
	CodeGenericFailure:       {retryable: true},
	CodeNoService:            {retryable: true},
	CodeRadioOff:             {retryable: true},
	CodeNullPDU:              {retryable: true},
	CodeLimitExceeded:        {retryable: true},
	CodeInvalidAddress:       {retryable: true},
	CodeTimeout:              {retryable: true},
	CodeTransportUnavailable: {retryable: true},
}

// ParseResultCode maps unknown codes to GENERIC_FAILURE.
func ParseResultCode(s string) ResultCode {
	c := ResultCode(s)
	if _, ok := codeClasses[c]; ok {
		return c
	}
	return CodeGenericFailure
}

func (c ResultCode) String() string { return string(c) }

func (c ResultCode) Success() bool { return codeClasses[c].success }

// Retryable reports whether a failed send may be attempted again. Unknown
// codes are retryable.
func (c ResultCode) Retryable() bool {
	cl, ok := codeClasses[c]
	return !ok || cl.retryable
}

// Result is delivered once on the channel returned by a send.
type Result struct {
	Code ResultCode
	Err  error
}

// Error renders the failure for job and history records.
func (r Result) Error() string {
	if r.Err == nil {
		return r.Code.String()
	}
	return r.Code.String() + ": " + r.Err.Error()
}

// Transport sends through the device. Each send returns immediately; the
// outcome arrives on the returned channel, which yields exactly one Result.
type Transport interface {
	Send(ctx context.Context, body, address string, endpointID int32) <-chan Result
	Divide(body string) []string
	SendMultipart(ctx context.Context, parts []string, address string, endpointID int32) <-chan Result
}
