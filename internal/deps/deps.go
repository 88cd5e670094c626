package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external binary pdfile relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool

	// Alternatives are tried in order when Command is not on PATH.
	Alternatives []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool

	// Path is the resolved executable when Available is set.
	Path   string
	Detail string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		path, err := Resolve(req)
		if err != nil {
			status.Detail = err.Error()
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Resolve returns the absolute path of the first candidate command found on PATH.
func Resolve(req Requirement) (string, error) {
	candidates := make([]string, 0, 1+len(req.Alternatives))
	for _, c := range append([]string{req.Command}, req.Alternatives...) {
		if c = strings.TrimSpace(c); c != "" {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("command not configured")
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	if len(candidates) == 1 {
		return "", fmt.Errorf("binary %q not found", candidates[0])
	}
	return "", fmt.Errorf("none of %s found", strings.Join(quoteAll(candidates), ", "))
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("%q", v)
	}
	return out
}
