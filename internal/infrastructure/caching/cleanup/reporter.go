// Package cleanup provides ascii reporter
package cleanup

import (
	"fmt"
	"strings"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/manager"
)

const (
	cyan        = "\033[38;2;86;182;194m"  // One Dark Cyan: #56B6C2
	cyanBright  = "\033[38;2;97;228;240m"  // Brighter Cyan: #61E4F0
	dimCyan     = "\033[38;2;47;91;102m"   // Dim Cyan: #2F5B66
	grey        = "\033[38;2;110;118;129m" // Brighter Grey: #6E7681
	dimGrey     = "\033[38;2;75;82;99m"    // Darker Grey: #4B5263
	success     = "\033[38;2;62;130;144m"  // Dim Cyan: #3E8290
	warning     = "\033[38;2;229;192;123m" // One Dark Yellow: #E5C07B
	errorRed    = "\033[38;2;224;108;117m" // One Dark Red: #E06C75
	white       = "\033[38;2;171;178;191m" // One Dark Foreground: #ABB2BF
	whiteBright = "\033[38;2;220;225;230m" // Brighter White
	purple      = "\033[38;2;198;120;221m" // One Dark Purple: #C678DD
	dimPurple   = "\033[38;2;142;87;158m"  // Dim Purple: #8E579E
	reset       = "\033[0m"
	bold        = "\033[1m"
)

type Reporter struct {
	cache *manager.Manager
}

func NewReporter(cache *manager.Manager) *Reporter {
	return &Reporter{cache: cache}
}

func (r *Reporter) LogHeader(title string) {
	fmt.Printf("%s%s✓ %s %s\n", bold, cyan, strings.ToUpper(title), reset)
}

func (r *Reporter) LogSubHeader(text string) {
	fmt.Printf("%s%s░▒▓ %s %s\n", bold, dimCyan, text, reset)
}

func (r *Reporter) LogStepSuccess(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s⚡ %s%s...%s\n", dimGrey, grey, formattedMsg, reset)
}

func (r *Reporter) LogStage(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s%s✦ %s%s%s\n", success, bold, grey, formattedMsg, reset)
}

func (r *Reporter) LogSuccess(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s%s✦ %s%s%s\n", success, bold, white, formattedMsg, reset)
}

func (r *Reporter) LogError(message string, err error) {
	fmt.Printf("%s%s✖ ERROR: %s%s: %v%s\n", bold, errorRed, grey, message, err, reset)
}

func (r *Reporter) LogWarning(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s%s⚠ WARNING: %s%s%s\n", bold, warning, grey, formattedMsg, reset)
}

func (r *Reporter) LogInfo(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s▶ %s%s%s\n", dimGrey, grey, formattedMsg, reset)
}

func (r *Reporter) LogReport(report string) {
	fmt.Print(report)
}

// GenerateReport renders a point-in-time view of cache occupancy for the
// cleanup log.
func (r *Reporter) GenerateReport() string {
	var report strings.Builder
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05 MST")

	report.WriteString(fmt.Sprintf("%s%s▓ %s | %sGateway Cache%s %s\n", bold, dimCyan, timestamp, whiteBright, "", reset))

	stats := r.cache.GetMemoryStats()

	formatItem := func(label string, value any) string {
		return fmt.Sprintf(" %s%s:%s%v", dimPurple, label, white, value)
	}

	var statusLine strings.Builder
	statusLine.WriteString(fmt.Sprintf("%s✦ cached:%s", cyanBright, reset))
	statusLine.WriteString(formatItem("sessions", stats["sessions"]))
	statusLine.WriteString(formatItem("definitions", stats["definitions"]))
	report.WriteString(statusLine.String() + "\n")

	var memoryLine strings.Builder
	memoryLine.WriteString(fmt.Sprintf("%s✦ memory:%s", purple, reset))
	memoryLine.WriteString(formatItem("allocMB", stats["allocMB"]))
	memoryLine.WriteString(formatItem("sysMB", stats["sysMB"]))
	memoryLine.WriteString(formatItem("numGC", stats["numGC"]))
	report.WriteString(memoryLine.String() + "\n")

	// Stage occupancy per gateway
	occupancy := r.cache.Sessions().StageOccupancy()
	if len(occupancy) > 0 {
		var stageLine strings.Builder
		stageLine.WriteString(fmt.Sprintf("%s✦ stages:%s", cyanBright, reset))
		for gatewayID, stages := range occupancy {
			total := 0
			for _, count := range stages {
				total += count
			}
			stageLine.WriteString(fmt.Sprintf(" %s%s:%s%d", dimCyan, gatewayID, cyan, total))
		}
		report.WriteString(stageLine.String() + "\n")
	}

	return report.String()
}
