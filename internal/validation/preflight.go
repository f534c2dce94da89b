// Package validation runs environment preflight checks before a session
// starts: a Chromium-family browser must be present and recent enough, the
// recordings directory writable, and the transcription settings usable.
package validation

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Result contains the outcome of one preflight check.
type Result struct {
	OK       bool
	Message  string
	Issues   []string
	Warnings []string
	Fixes    []string
}

// minChromeMajor is the oldest Chrome/Chromium major version the in-page
// capture path (MediaRecorder with opus) is known to work on.
const minChromeMajor = 94

// browserCandidates lists where a Chromium-family binary is usually found
// when none is configured.
var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// FindBrowser resolves the browser binary: the configured path when given,
// otherwise the first candidate found on this machine. An empty result is
// fine for callers that let the browser driver download its own build.
func FindBrowser(configured string) string {
	if configured != "" {
		return configured
	}
	for _, candidate := range browserCandidates {
		if strings.ContainsRune(candidate, os.PathSeparator) {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

// CheckBrowser validates the browser binary, including a version probe.
func CheckBrowser(configured string) *Result {
	result := &Result{OK: true}

	bin := FindBrowser(configured)
	if bin == "" {
		result.Warnings = append(result.Warnings, "no Chrome/Chromium binary found on this machine")
		result.Fixes = append(result.Fixes, "install Google Chrome or Chromium, or set browser_bin in the config")
		result.Message = "browser not found; a managed build will be downloaded on first run"
		return result
	}

	out, err := exec.Command(bin, "--version").Output()
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not probe browser version: %v", err))
		result.Message = fmt.Sprintf("browser found at %s (version unknown)", bin)
		return result
	}

	return CheckBrowserVersion(bin, string(out))
}

// CheckBrowserVersion validates a "--version" output line such as
// "Google Chrome 120.0.6099.109" or "Chromium 118.0.5993.70".
func CheckBrowserVersion(bin, versionString string) *Result {
	result := &Result{OK: true}

	re := regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	matches := re.FindStringSubmatch(versionString)
	if len(matches) < 4 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not parse browser version: %q", strings.TrimSpace(versionString)))
		result.Message = fmt.Sprintf("browser found at %s (version unparsed)", bin)
		return result
	}

	major, _ := strconv.Atoi(matches[1])
	if major < minChromeMajor {
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("browser version %d is too old (requires %d+)", major, minChromeMajor))
		result.Fixes = append(result.Fixes, "update Chrome/Chromium to a current release")
		result.Message = fmt.Sprintf("browser %d requires update to %d+", major, minChromeMajor)
		return result
	}

	result.Message = fmt.Sprintf("browser %d is compatible (requires %d+)", major, minChromeMajor)
	return result
}

// CheckRecordingsDir verifies the recordings directory can be created and
// written to.
func CheckRecordingsDir(dir string) *Result {
	result := &Result{OK: true}

	if err := os.MkdirAll(dir, 0755); err != nil {
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("cannot create recordings directory %s: %v", dir, err))
		result.Fixes = append(result.Fixes, "set recording.dir to a writable location")
		result.Message = "recordings directory unusable"
		return result
	}

	probe := filepath.Join(dir, ".meetagent-write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("recordings directory %s is not writable: %v", dir, err))
		result.Fixes = append(result.Fixes, "fix permissions or set recording.dir to a writable location")
		result.Message = "recordings directory not writable"
		return result
	}
	_ = os.Remove(probe)

	result.Message = fmt.Sprintf("recordings directory %s is writable", dir)
	return result
}

// CheckTranscription validates the transcription settings.
func CheckTranscription(mode, apiKey string) *Result {
	result := &Result{OK: true}

	switch mode {
	case "", "off":
		result.Message = "transcription disabled"
	case "captions":
		result.Message = "live caption scraping enabled"
	case "whisper":
		if apiKey == "" {
			result.OK = false
			result.Issues = append(result.Issues, "whisper mode needs an API key")
			result.Fixes = append(result.Fixes, "set transcription.whisper.api_key or the OPENAI_API_KEY env var")
			result.Message = "whisper transcription misconfigured"
			return result
		}
		result.Message = "whisper transcription enabled"
	default:
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("unknown transcription mode %q", mode))
		result.Fixes = append(result.Fixes, "use whisper, captions or off")
		result.Message = "transcription misconfigured"
	}
	return result
}

// Merge combines several results; the merged result is OK only when every
// input is.
func Merge(results ...*Result) *Result {
	merged := &Result{OK: true}
	var messages []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if !r.OK {
			merged.OK = false
		}
		if r.Message != "" {
			messages = append(messages, r.Message)
		}
		merged.Issues = append(merged.Issues, r.Issues...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		merged.Fixes = append(merged.Fixes, r.Fixes...)
	}
	merged.Message = strings.Join(messages, "; ")
	return merged
}
