package otp

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var manualCodePattern = regexp.MustCompile(`^\d{4,8}$`)

// promptManualEntry asks the operator to type the code by hand. This is the
// last resort when the webhook never fires, and is only reachable in
// interactive mode; unattended runs fail the wait instead.
func (c *Coordinator) promptManualEntry() (string, bool) {
	slog.Warn("code not received via webhook, falling back to manual entry")
	fmt.Println("code was not delivered via the webhook; check the phone and type it below")

	fmt.Print("enter code (or press Enter to skip): ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		slog.Warn("manual code entry cancelled")
		return "", false
	}

	entered := strings.TrimSpace(scanner.Text())
	if entered == "" {
		slog.Warn("manual code entry skipped")
		return "", false
	}
	if !manualCodePattern.MatchString(entered) {
		slog.Warn("invalid manual code, expected 4-8 digits", "entered", entered)
		return "", false
	}

	slog.Info("code entered manually")
	return entered, true
}
