package device

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SenseError reports a hardware-level refusal from the changer or drive,
// carrying the SCSI additional sense code when one could be parsed from the
// tool output.
type SenseError struct {
	Op     string
	Code   string
	Output string
	Err    error
}

func (e *SenseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: sense %s", e.Op, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *SenseError) Unwrap() error {
	return e.Err
}

// SenseCode extracts the additional sense code from err, or "" when err does
// not carry one.
func SenseCode(err error) string {
	var senseErr *SenseError
	if errors.As(err, &senseErr) {
		return senseErr.Code
	}
	return ""
}

var senseRe = regexp.MustCompile(`ASC\s*=\s*([0-9A-Fa-f]{2})\s+ASCQ\s*=\s*([0-9A-Fa-f]{2})`)

// parseSense scans tool output for a SCSI additional sense code pair and
// returns it as "ASC/ASCQ", or "" when none is present.
func parseSense(output string) string {
	match := senseRe.FindStringSubmatch(output)
	if match == nil {
		return ""
	}
	return strings.ToUpper(match[1]) + "/" + strings.ToUpper(match[2])
}
