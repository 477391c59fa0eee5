package capture

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// TSharkSource spawns tshark and decodes its field output into packets.
type TSharkSource struct {
	binPath       string
	iface         string
	captureFilter string
	displayFilter string
	logger        *slog.Logger
}

func NewTSharkSource(binPath, iface, captureFilter, displayFilter string, logger *slog.Logger) *TSharkSource {
	if binPath == "" {
		binPath = "tshark"
	}
	return &TSharkSource{
		binPath:       binPath,
		iface:         iface,
		captureFilter: captureFilter,
		displayFilter: displayFilter,
		logger:        logger,
	}
}

// Capture runs one tshark process lifetime. A non-zero exit while the
// context is still live is returned as an error; fn errors abort the
// process immediately.
func (s *TSharkSource) Capture(ctx context.Context, fn func(Packet) error) error {
	args := []string{
		"-l", "-n", "-Q",
		"--log-level", "critical",
		"-B", "1",
		"-i", s.iface,
	}
	if s.captureFilter != "" {
		args = append(args, "-f", s.captureFilter)
	}
	if s.displayFilter != "" {
		args = append(args, "-Y", s.displayFilter)
	}
	args = append(args,
		"-T", "fields",
		"-E", "separator=|",
		"-e", "frame.time_epoch",
		"-e", "ip.src",
		"-e", "ip.dst",
		"-e", "udp.srcport",
		"-e", "udp.dstport",
	)

	cmd := exec.CommandContext(ctx, s.binPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: creating tshark stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: starting tshark: %w", err)
	}
	s.logger.Debug("capture: tshark started", "interface", s.iface, "filter", s.captureFilter)

	var fnErr error
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		pkt, ok := parseTSharkLine(scanner.Text())
		if !ok {
			continue
		}
		if err := fn(pkt); err != nil {
			fnErr = err
			break
		}
	}

	if fnErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fnErr
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("capture: tshark exited: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// parseTSharkLine decodes one "epoch|src|dst|srcport|dstport" line.
// Lines with missing fields are not peer traffic and are dropped.
func parseTSharkLine(line string) (Packet, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 5)
	if len(parts) != 5 {
		return Packet{}, false
	}
	for _, part := range parts {
		if part == "" {
			return Packet{}, false
		}
	}

	epoch, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Packet{}, false
	}
	sec, frac := math.Modf(epoch)

	src, err := netip.ParseAddr(parts[1])
	if err != nil {
		return Packet{}, false
	}
	dst, err := netip.ParseAddr(parts[2])
	if err != nil {
		return Packet{}, false
	}
	srcPort, err := strconv.ParseUint(parts[3], 10, 16)
	if err != nil {
		return Packet{}, false
	}
	dstPort, err := strconv.ParseUint(parts[4], 10, 16)
	if err != nil {
		return Packet{}, false
	}

	return Packet{
		Timestamp: time.Unix(int64(sec), int64(frac*float64(time.Second))),
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   uint16(srcPort),
		DstPort:   uint16(dstPort),
	}, true
}
