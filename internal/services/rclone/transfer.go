package rclone

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// stderrKeep bounds how many trailing stderr lines are kept for the
// error message of a failed transfer.
const stderrKeep = 10

// transferHandle implements interfaces.TransferHandle for a running
// rclone subprocess.
type transferHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	progress models.TransferProgress
	stderr   []string
	err      error
}

// StartTransfer begins copying source to dest. With DeleteSource set the
// engine moves instead of copies. The returned handle reports progress
// parsed from the engine's one-line stats output.
func (s *Service) StartTransfer(ctx context.Context, source string, dest string, opts interfaces.TransferOptions) (interfaces.TransferHandle, error) {
	verb := "copy"
	if opts.DeleteSource {
		verb = "move"
	}

	args := []string{verb}
	if s.configFile != "" {
		args = append(args, "--config", s.configFile)
	}
	args = append(args,
		"--progress",
		"--stats", s.statsInterval,
		"--stats-one-line",
		"-v",
		"--checksum",
	)

	bwLimit := opts.BandwidthLimit
	if bwLimit == "" {
		bwLimit = s.bwLimit
	}
	if bwLimit != "" {
		args = append(args, "--bwlimit", bwLimit)
	}

	args = append(args, source, dest)

	cmd := exec.CommandContext(ctx, s.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine %s: %w", verb, err)
	}

	s.logger.Debug().
		Str("verb", verb).
		Str("source", source).
		Str("dest", dest).
		Msg("Engine transfer started")

	h := &transferHandle{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if progress, ok := parseStatsLine(scanner.Text()); ok {
				h.mu.Lock()
				h.progress = progress
				h.mu.Unlock()
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			// stdout stats sometimes leak onto stderr with -v
			if progress, ok := parseStatsLine(line); ok {
				h.mu.Lock()
				h.progress = progress
				h.mu.Unlock()
				continue
			}
			h.mu.Lock()
			h.stderr = append(h.stderr, line)
			if len(h.stderr) > stderrKeep {
				h.stderr = h.stderr[len(h.stderr)-stderrKeep:]
			}
			h.mu.Unlock()
		}
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()

		h.mu.Lock()
		if err != nil {
			detail := strings.Join(h.stderr, "\n")
			if detail == "" {
				detail = err.Error()
			}
			h.err = fmt.Errorf("engine %s failed: %s", verb, detail)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// Progress returns the latest parsed progress snapshot
func (h *transferHandle) Progress() models.TransferProgress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Done is closed when the subprocess exits
func (h *transferHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error after Done is closed
func (h *transferHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Kill aborts the running subprocess
func (h *transferHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// statsRe matches rclone's one-line stats output, e.g.
// "1.234 MiB / 5.678 MiB, 22%, 1.200 MiB/s, ETA 3s"
var statsRe = regexp.MustCompile(`([\d.]+)\s*([KMGTP]?i?B)?\s*/\s*[\d.]+\s*([KMGTP]?i?B),\s*(\d+|-)%,\s*([\d.]+)\s*([KMGTP]?i?B)/s,\s*ETA\s*(\S+)`)

var unitMultipliers = map[string]float64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
	"PiB": 1 << 50,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
	"PB":  1e15,
}

// parseStatsLine extracts a progress snapshot from one stats line
func parseStatsLine(line string) (models.TransferProgress, bool) {
	match := statsRe.FindStringSubmatch(line)
	if match == nil {
		return models.TransferProgress{}, false
	}

	transferredUnit := match[2]
	if transferredUnit == "" {
		transferredUnit = match[3]
	}

	transferred, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return models.TransferProgress{}, false
	}
	transferred *= unitMultipliers[transferredUnit]

	percentage := 0.0
	if match[4] != "-" {
		if pct, err := strconv.ParseFloat(match[4], 64); err == nil {
			percentage = pct
		}
	}

	rate, _ := strconv.ParseFloat(match[5], 64)
	rate *= unitMultipliers[match[6]]

	var etaSeconds int64
	if eta, err := time.ParseDuration(match[7]); err == nil {
		etaSeconds = int64(eta.Seconds())
	}

	return models.TransferProgress{
		BytesTransferred: int64(transferred),
		Percentage:       percentage,
		Rate:             rate,
		ETASeconds:       etaSeconds,
	}, true
}
