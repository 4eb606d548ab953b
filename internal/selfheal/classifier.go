// Package selfheal watches channel telemetry, classifies failures, and
// applies bounded automatic remediation. Anything risky or repeatedly
// failing is escalated for a human instead of retried forever.
package selfheal

import "regexp"

// ErrorKind categorizes a failure observed on a channel.
type ErrorKind string

const (
	KindConnectionRefused ErrorKind = "connection_refused"
	KindConnectionTimeout ErrorKind = "connection_timeout"
	KindConnectionReset   ErrorKind = "connection_reset"
	KindDNSFailure        ErrorKind = "dns_failure"
	KindTLSError          ErrorKind = "tls_error"
	KindHTTPForbidden     ErrorKind = "http_forbidden"
	KindHTTPNotFound      ErrorKind = "http_not_found"
	KindCorruptStream     ErrorKind = "corrupt_stream"
	KindDecoderError      ErrorKind = "decoder_error"
	KindEncoderError      ErrorKind = "encoder_error"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindProcessFailure    ErrorKind = "process_failure"
	KindUnknown           ErrorKind = "unknown"
)

// Severity grades how urgent a classified error is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// pattern binds a compiled stderr matcher to its classification.
type pattern struct {
	re       *regexp.Regexp
	kind     ErrorKind
	severity Severity
}

// stderrPatterns classify FFmpeg stderr lines. Order matters: the first
// match wins, so specific patterns precede generic ones.
var stderrPatterns = []pattern{
	{regexp.MustCompile(`(?i)connection refused`), KindConnectionRefused, SeverityError},
	{regexp.MustCompile(`(?i)(connection timed out|operation timed out|timeout occurred)`), KindConnectionTimeout, SeverityError},
	{regexp.MustCompile(`(?i)(connection reset|broken pipe|end of file.*reading)`), KindConnectionReset, SeverityWarning},
	{regexp.MustCompile(`(?i)(failed to resolve hostname|name or service not known|no address associated)`), KindDNSFailure, SeverityError},
	{regexp.MustCompile(`(?i)(tls|ssl).*(handshake|certificate|error)`), KindTLSError, SeverityError},
	{regexp.MustCompile(`(?i)(http error 403|403 forbidden|server returned 403)`), KindHTTPForbidden, SeverityError},
	{regexp.MustCompile(`(?i)(http error 404|404 not found|server returned 404)`), KindHTTPNotFound, SeverityError},
	{regexp.MustCompile(`(?i)(invalid data found|corrupt.*(packet|frame|input)|error while decoding.*corrupt)`), KindCorruptStream, SeverityWarning},
	{regexp.MustCompile(`(?i)(error while decoding|decoding for stream.*failed|could not find codec)`), KindDecoderError, SeverityWarning},
	{regexp.MustCompile(`(?i)(error while encoding|encoder.*(failed|not found)|cannot open encoder)`), KindEncoderError, SeverityError},
	{regexp.MustCompile(`(?i)(cannot allocate memory|out of memory|no space left on device|too many open files)`), KindResourceExhausted, SeverityCritical},
	{regexp.MustCompile(`(?i)(permission denied|operation not permitted)`), KindResourceExhausted, SeverityCritical},
}

// Classify maps one stderr line to its error kind and severity. Lines
// matching nothing are informational noise.
func Classify(line string) (ErrorKind, Severity) {
	for _, p := range stderrPatterns {
		if p.re.MatchString(line) {
			return p.kind, p.severity
		}
	}
	return KindUnknown, SeverityInfo
}
