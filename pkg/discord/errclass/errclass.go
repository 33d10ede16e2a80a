// Package errclass maps failures observed around remote calls onto the
// bridge's error taxonomy: a Kind, whether the Retry Engine may try again,
// and the HTTP status surfaced to callers.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
)

type Kind string

const (
	KindValidation  Kind = "VALIDATION_ERROR"
	KindNotReady    Kind = "NOT_READY"
	KindNotFound    Kind = "NOT_FOUND"
	KindForbidden   Kind = "FORBIDDEN"
	KindRateLimited Kind = "RATE_LIMITED"
	KindTransient   Kind = "TRANSIENT"
	KindUnknown     Kind = "UNKNOWN"
)

func (k Kind) String() string { return string(k) }

// ErrNotReady is returned for outbound calls made while no session is Ready.
var ErrNotReady = errors.New("discord session not ready")

// Classified is the outcome of classifying one failure.
type Classified struct {
	Kind       Kind
	Retryable  bool
	Status     int
	RetryAfter time.Duration
	// Code is the platform's JSON error code, when one was present.
	Code    int
	Message string
}

// Platform JSON error codes that are not in the 10xxx unknown-resource range.
var forbiddenCodes = map[int]struct{}{
	20001: {}, // bots cannot use this endpoint
	20012: {}, // not authorized for this application
	40001: {}, // unauthorized
	40002: {}, // account verification required
	50001: {}, // missing access
	50007: {}, // cannot send messages to this user
	50013: {}, // missing permissions
	50021: {}, // cannot execute on a system message
}

// Classify is total and deterministic. A nil error classifies as Unknown.
func Classify(err error) Classified {
	if err == nil {
		return unknown("no error")
	}

	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce.Classified
	}

	var ve *payload.ValidationError
	if errors.As(err, &ve) {
		return Classified{Kind: KindValidation, Status: http.StatusBadRequest, Message: ve.Error()}
	}
	if errors.Is(err, ErrNotReady) {
		return Classified{Kind: KindNotReady, Status: http.StatusServiceUnavailable, Message: err.Error()}
	}

	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) && rle != nil {
		c := Classified{Kind: KindRateLimited, Retryable: true, Status: http.StatusTooManyRequests, Message: "rate limited by platform"}
		if rle.RateLimit != nil && rle.RateLimit.TooManyRequests != nil {
			c.RetryAfter = rle.RateLimit.TooManyRequests.RetryAfter
			if msg := strings.TrimSpace(rle.RateLimit.TooManyRequests.Message); msg != "" {
				c.Message = msg
			}
		}
		return c
	}

	var re *discordgo.RESTError
	if errors.As(err, &re) && re != nil {
		return classifyREST(re)
	}

	if errors.Is(err, context.Canceled) {
		return unknown(err.Error())
	}
	if isTransientTransport(err) {
		return transient(err.Error())
	}
	return unknown(err.Error())
}

func classifyREST(re *discordgo.RESTError) Classified {
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	code := 0
	msg := http.StatusText(status)
	if re.Message != nil {
		code = re.Message.Code
		if strings.TrimSpace(re.Message.Message) != "" {
			msg = re.Message.Message
		}
	}

	switch {
	case code >= 10001 && code <= 10099:
		return Classified{Kind: KindNotFound, Status: http.StatusNotFound, Code: code, Message: msg}
	case isForbiddenCode(code):
		return Classified{Kind: KindForbidden, Status: http.StatusForbidden, Code: code, Message: msg}
	}

	switch {
	case status == http.StatusNotFound:
		return Classified{Kind: KindNotFound, Status: http.StatusNotFound, Code: code, Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Classified{Kind: KindForbidden, Status: http.StatusForbidden, Code: code, Message: msg}
	case status == http.StatusTooManyRequests:
		return Classified{
			Kind:       KindRateLimited,
			Retryable:  true,
			Status:     http.StatusTooManyRequests,
			RetryAfter: retryAfterHeader(re.Response),
			Code:       code,
			Message:    msg,
		}
	case status >= 500 && status <= 599:
		c := transient(msg)
		c.Code = code
		return c
	}
	c := unknown(msg)
	c.Code = code
	return c
}

func isForbiddenCode(code int) bool {
	_, ok := forbiddenCodes[code]
	return ok
}

func isTransientTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func transient(msg string) Classified {
	return Classified{Kind: KindTransient, Retryable: true, Status: http.StatusServiceUnavailable, Message: msg}
}

func unknown(msg string) Classified {
	return Classified{Kind: KindUnknown, Status: http.StatusInternalServerError, Message: msg}
}
