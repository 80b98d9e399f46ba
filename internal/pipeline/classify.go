package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind is the stable category of a failed extraction.
type ErrorKind string

const (
	KindEmptyFile         ErrorKind = "EMPTY_FILE"
	KindFileSizeExceeded  ErrorKind = "FILE_SIZE_EXCEEDED"
	KindInvalidDocument   ErrorKind = "INVALID_DOCUMENT"
	KindPageLimitExceeded ErrorKind = "PAGE_LIMIT_EXCEEDED"
	KindCorruptedDocument ErrorKind = "CORRUPTED_DOCUMENT"
	KindQuotaExceeded     ErrorKind = "QUOTA_EXCEEDED"
	KindPermissionDenied  ErrorKind = "PERMISSION_DENIED"
	KindProviderTimeout   ErrorKind = "PROVIDER_TIMEOUT"
	KindUnknown           ErrorKind = "UNKNOWN_ERROR"
)

const (
	msgPageLimit        = "Document exceeds the maximum page limit. Please split the document into smaller parts."
	msgFileSize         = "Document file size is too large. Please use a smaller file (max 20MB)."
	msgInvalidDocument  = "Document format is not supported. Please use PDF or image files (PNG, JPEG, TIFF, GIF, BMP, WEBP)."
	msgCorrupted        = "Document appears to be corrupted. Please try uploading a different file."
	msgQuota            = "Processing quota exceeded. Please try again later."
	msgPermissionDenied = "Authentication error. Please contact support."
	msgUnknown          = "Document processing failed. Please try again or contact support."
)

var (
	pageGotPattern    = regexp.MustCompile(`(\d+) got (\d+)`)
	pageLimitPattern  = regexp.MustCompile(`(?i)limit\D{0,16}(\d+).*?(?:actual|got|found)\D{0,16}(\d+)`)
	pageActualPattern = regexp.MustCompile(`(?i)(?:actual|got|found)\D{0,16}(\d+).*?limit\D{0,16}(\d+)`)
)

type rule struct {
	kind    ErrorKind
	markers []string // matched case-sensitively
	lower   []string // matched against the lowercased message
	message func(raw string) string
}

var rules = []rule{
	{kind: KindPageLimitExceeded, markers: []string{"PAGE_LIMIT_EXCEEDED"}, message: pageLimitMessage},
	{kind: KindFileSizeExceeded, markers: []string{"FILE_SIZE_EXCEEDED"}, lower: []string{"file size"}, message: fixed(msgFileSize)},
	{kind: KindInvalidDocument, markers: []string{"INVALID_DOCUMENT"}, lower: []string{"unsupported format"}, message: fixed(msgInvalidDocument)},
	{kind: KindCorruptedDocument, markers: []string{"CORRUPTED_DOCUMENT"}, lower: []string{"corrupted"}, message: fixed(msgCorrupted)},
	{kind: KindQuotaExceeded, markers: []string{"QUOTA_EXCEEDED"}, lower: []string{"quota"}, message: fixed(msgQuota)},
	{kind: KindPermissionDenied, markers: []string{"PERMISSION_DENIED"}, lower: []string{"authentication"}, message: fixed(msgPermissionDenied)},
}

// Classify maps a raw provider error message to an error kind and a message
// that is safe to show to the document owner. It never fails.
func Classify(raw string) (ErrorKind, string) {
	lowered := strings.ToLower(raw)
	for _, r := range rules {
		if r.matches(raw, lowered) {
			return r.kind, r.message(raw)
		}
	}
	return KindUnknown, msgUnknown
}

func (r rule) matches(raw, lowered string) bool {
	for _, m := range r.markers {
		if strings.Contains(raw, m) {
			return true
		}
	}
	for _, m := range r.lower {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}

func fixed(msg string) func(string) string {
	return func(string) string { return msg }
}

func pageLimitMessage(raw string) string {
	limit, actual, ok := pageCounts(raw)
	if !ok {
		return msgPageLimit
	}
	return fmt.Sprintf("Document has %s pages, but the limit is %s pages. Please split the document into smaller parts.", actual, limit)
}

func pageCounts(raw string) (limit, actual string, ok bool) {
	if m := pageGotPattern.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	if m := pageLimitPattern.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	if m := pageActualPattern.FindStringSubmatch(raw); m != nil {
		return m[2], m[1], true
	}
	return "", "", false
}
