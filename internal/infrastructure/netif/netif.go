package netif

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/linkkeeper/internal/connectivity"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

// Default filesystem locations.
const (
	DefaultSysfsRoot    = "/sys/class/net"
	DefaultWirelessPath = "/proc/net/wireless"
)

// nmcli exit statuses that classify a failed attempt.
const (
	nmcliActivationFailed = 4
	nmcliNotFound         = 10
)

// disconnectTimeout bounds nmcli device disconnect.
const disconnectTimeout = 5 * time.Second

// Runner executes an external command and reports its exit status. A
// non-empty stdin is written to the command's standard input.
type Runner interface {
	Run(ctx context.Context, stdin, name string, args ...string) (exitCode int, output []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name. A non-zero exit is reported through exitCode with a
// nil error; err is set only when the command could not run.
func (ExecRunner) Run(ctx context.Context, stdin, name string, args ...string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out, nil
	}
	if err != nil {
		return -1, out, fmt.Errorf("running %s: %w", name, err)
	}
	return 0, out, nil
}

// Logger is the logging surface used by the drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a Driver.
type Option func(*Driver)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(d *Driver) { d.runner = r }
}

// WithPaths overrides the sysfs root and the wireless statistics file.
func WithPaths(sysfsRoot, wirelessPath string) Option {
	return func(d *Driver) {
		d.sysfs = sysfsRoot
		d.wireless = wirelessPath
	}
}

// WithLogger sets the driver logger.
func WithLogger(l Logger) Option {
	return func(d *Driver) { d.log = l }
}

// Driver associates a wireless interface through NetworkManager.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Driver struct {
	iface   string
	timeout time.Duration

	runner   Runner
	sysfs    string
	wireless string
	log      Logger

	mu       sync.Mutex
	inflight bool
	failure  connectivity.LinkStatus // set by a failed attempt until the next Begin
	wasUp    bool
	cancel   context.CancelFunc
	gen      uint64
}

// New creates a Driver for iface. timeout bounds each nmcli attempt and
// should match the link timeout of the supervisor.
func New(iface string, timeout time.Duration, opts ...Option) *Driver {
	d := &Driver{
		iface:    iface,
		timeout:  timeout,
		runner:   ExecRunner{},
		sysfs:    DefaultSysfsRoot,
		wireless: DefaultWirelessPath,
		log:      noopLogger{},
		failure:  connectivity.LinkIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Begin starts an association attempt in the background. A call while an
// attempt is running is ignored.
func (d *Driver) Begin(ssid, password string) error {
	if ssid == "" {
		return errors.New("netif: empty ssid")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inflight {
		return nil
	}
	d.inflight = true
	d.failure = connectivity.LinkIdle
	d.gen++

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	d.cancel = cancel

	go d.associate(ctx, cancel, d.gen, ssid, password, associateArgs(ssid, password, d.iface, d.timeout))
	return nil
}

// associateArgs builds the nmcli command line. The password never appears
// in argv; with --ask nmcli reads it from stdin.
func associateArgs(ssid, password, iface string, timeout time.Duration) []string {
	args := []string{"--wait", strconv.Itoa(waitSeconds(timeout))}
	if password != "" {
		args = append(args, "--ask")
	}
	return append(args, "device", "wifi", "connect", ssid, "ifname", iface)
}

func waitSeconds(timeout time.Duration) int {
	s := int(timeout / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func (d *Driver) associate(ctx context.Context, cancel context.CancelFunc, gen uint64, ssid, password string, args []string) {
	defer cancel()

	var stdin string
	if password != "" {
		stdin = password + "\n"
	}
	code, out, err := d.runner.Run(ctx, stdin, "nmcli", args...)
	status := classifyExit(code, err)

	d.mu.Lock()
	if gen != d.gen {
		// Abandoned by Disconnect.
		d.mu.Unlock()
		return
	}
	d.inflight = false
	d.cancel = nil
	d.failure = status
	d.mu.Unlock()

	if status != connectivity.LinkIdle {
		d.log.Warn("wifi association failed",
			"ssid", ssid,
			"exit_code", code,
			"status", status.String(),
			"output", strings.TrimSpace(string(out)),
			"error", err,
		)
		return
	}
	d.log.Debug("wifi association finished", "ssid", ssid)
}

// classifyExit maps an nmcli exit status to the failure reported until the
// next attempt. LinkIdle means no failure: the interface state decides.
func classifyExit(code int, err error) connectivity.LinkStatus {
	switch {
	case err != nil:
		return connectivity.LinkDown
	case code == 0:
		return connectivity.LinkIdle
	case code == nmcliNotFound:
		return connectivity.LinkNoNetwork
	case code == nmcliActivationFailed:
		return connectivity.LinkRejected
	default:
		return connectivity.LinkDown
	}
}

// Status reports the association state.
func (d *Driver) Status() connectivity.LinkStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inflight {
		return connectivity.LinkAssociating
	}
	if d.failure != connectivity.LinkIdle {
		return d.failure
	}

	state, err := readOperstate(d.sysfs, d.iface)
	if err != nil {
		return connectivity.LinkDown
	}
	status := fromOperstate(state, d.wasUp)
	d.wasUp = status == connectivity.LinkUp
	return status
}

// fromOperstate maps a kernel operstate to a link status.
func fromOperstate(state string, wasUp bool) connectivity.LinkStatus {
	switch state {
	case "up":
		return connectivity.LinkUp
	case "dormant":
		return connectivity.LinkAssociating
	}
	if wasUp {
		return connectivity.LinkLost
	}
	return connectivity.LinkDown
}

// RSSI returns the signal level in dBm, or diagnostics.NoSignal when the
// interface has no wireless statistics.
func (d *Driver) RSSI() int {
	f, err := os.Open(d.wireless)
	if err != nil {
		return diagnostics.NoSignal
	}
	defer f.Close()
	return parseWireless(f, d.iface)
}

// Disconnect cancels any running attempt and disconnects the interface.
// The nmcli call runs in the background.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.gen++
	d.inflight = false
	d.failure = connectivity.LinkIdle
	d.wasUp = false
	d.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if code, out, err := d.runner.Run(ctx, "", "nmcli", "device", "disconnect", d.iface); err != nil || code != 0 {
			d.log.Warn("wifi disconnect failed",
				"exit_code", code,
				"output", strings.TrimSpace(string(out)),
				"error", err,
			)
		}
	}()
	return nil
}

// readOperstate reads /sys/class/net/<iface>/operstate.
func readOperstate(sysfsRoot, iface string) (string, error) {
	b, err := os.ReadFile(filepath.Join(sysfsRoot, iface, "operstate"))
	if err != nil {
		return "", fmt.Errorf("reading operstate: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// parseWireless extracts the signal level of iface from /proc/net/wireless:
//
//	Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
//	 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
//	 wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
//
// Some drivers report the level as an unsigned byte; those are folded
// back into dBm.
func parseWireless(r io.Reader, iface string) int {
	sc := bufio.NewScanner(r)
	prefix := []byte(iface + ":")
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if !bytes.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(string(line[len(prefix):]))
		if len(fields) < 3 {
			return diagnostics.NoSignal
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return diagnostics.NoSignal
		}
		dbm := int(level)
		if dbm > 0 {
			dbm -= 256
		}
		return dbm
	}
	return diagnostics.NoSignal
}

var _ connectivity.LinkDriver = (*Driver)(nil)
