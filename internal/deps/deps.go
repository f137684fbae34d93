// Package deps checks that the external tape tools the daemon shells out to
// are actually installed. The daemon cannot ship them; it can only refuse to
// pretend they are there.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary the daemon invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of one requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the tape path depends on.
func Requirements() []Requirement {
	return []Requirement{
		{Name: "mtx", Command: "mtx", Description: "SCSI media changer control"},
		{Name: "ltfs", Command: "ltfs", Description: "LTFS tape filesystem"},
		{Name: "umount", Command: "umount", Description: "filesystem unmount"},
	}
}

// Check evaluates the requirements against PATH.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		command := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     command,
			Description: req.Description,
			Optional:    req.Optional,
		}
		if command == "" {
			status.Detail = "command not configured"
		} else if _, err := exec.LookPath(command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found in PATH", command)
		} else {
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional tools.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
