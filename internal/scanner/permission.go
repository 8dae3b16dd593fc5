package scanner

import (
	"fmt"
	"regexp"

	"github.com/doomcode/doomcode/internal/wire"
)

// PermissionDetector recognizes common approval prompts in raw
// assistant output and extracts a structured request. Patterns are
// tried in a fixed order and the first match wins.
type PermissionDetector struct {
	newRequestID func() string
	patterns     []permissionPattern
}

type permissionPattern struct {
	re     *regexp.Regexp
	action string
	// describe builds the human description and path/command details
	// from the pattern's capture groups.
	describe func(match []string) (description string, details wire.PermissionDetails)
}

func NewPermissionDetector(newRequestID func() string) *PermissionDetector {
	return &PermissionDetector{
		newRequestID: newRequestID,
		patterns: []permissionPattern{
			{
				re:     regexp.MustCompile(`(?i)do you want to (?:write to|create|overwrite)\s+(.+?)\?`),
				action: "file_write",
				describe: func(m []string) (string, wire.PermissionDetails) {
					path := m[1]
					return fmt.Sprintf("Write to file: %s", path), wire.PermissionDetails{Path: path}
				},
			},
			{
				re:     regexp.MustCompile(`(?i)do you want to (?:read|open)\s+(.+?)\?`),
				action: "file_read",
				describe: func(m []string) (string, wire.PermissionDetails) {
					path := m[1]
					return fmt.Sprintf("Read file: %s", path), wire.PermissionDetails{Path: path}
				},
			},
			{
				re:     regexp.MustCompile(`(?im)(?:do you want to run|allow (?:running|execution of))\s+` + "`?([^`\n]+?)`?" + `\s*(?:\?|$)`),
				action: "shell_command",
				describe: func(m []string) (string, wire.PermissionDetails) {
					cmd := m[1]
					return fmt.Sprintf("Run command: %s", cmd), wire.PermissionDetails{Command: cmd}
				},
			},
			{
				re:     regexp.MustCompile(`(?i)(?:proceed|continue|allow this action)\?\s*\[y/n\]`),
				action: "other",
				describe: func(m []string) (string, wire.PermissionDetails) {
					return "Approve pending action", wire.PermissionDetails{}
				},
			},
		},
	}
}

// Scan tries every pattern in order against the window and returns at
// most one PermissionRequest per call — a pipeline of pattern matchers
// each reporting how much of the window it irrevocably processed
// avoids double-firing on overlapping patterns.
func (d *PermissionDetector) Scan(w *Window) *wire.PermissionRequest {
	buf := w.Bytes()
	for _, p := range d.patterns {
		loc := p.re.FindSubmatchIndex(buf)
		if loc == nil {
			continue
		}
		match := make([]string, len(loc)/2)
		for i := range match {
			if loc[2*i] < 0 {
				continue
			}
			match[i] = string(buf[loc[2*i]:loc[2*i+1]])
		}
		description, details := p.describe(match)
		req := &wire.PermissionRequest{
			Type:        wire.PayloadPermissionRequest,
			RequestID:   d.newRequestID(),
			Action:      p.action,
			Description: description,
			Details:     details,
		}
		// Consume everything up to and including the match so the same
		// prompt cannot fire twice, and so a later, broader pattern
		// doesn't re-match the tail of an already-handled prompt.
		w.buf = buf[loc[1]:]
		return req
	}
	return nil
}
