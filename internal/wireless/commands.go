package wireless

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pavelaron/pi-extender/internal/shell"
)

// Command is one external invocation. Argument order follows the target
// tool's grammar exactly.
type Command struct {
	Name string
	Args []string
}

// String renders the command with secrets masked.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(shell.Redact(c.Args), " "))
}

// HotspotCommand creates (or replaces) the NetworkManager hotspot on iface.
func HotspotCommand(iface, ssid, password string) Command {
	return Command{Name: "nmcli", Args: []string{
		"d", "wifi", "hotspot",
		"ifname", iface,
		"ssid", ssid,
		"password", password,
	}}
}

func PowerSaveOffCommand(iface string) Command {
	return Command{Name: "iw", Args: []string{"dev", iface, "set", "power_save", "off"}}
}

// ConnectCommand joins ssid as a station. An empty password joins an open
// network.
func ConnectCommand(ssid, password string) Command {
	args := []string{"dev", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	return Command{Name: "nmcli", Args: args}
}

func DeviceStatusCommand() Command {
	return Command{Name: "nmcli", Args: []string{"-t", "-f", "DEVICE,TYPE,STATE", "device", "status"}}
}

func redirectArgs(flag, iface string, port int) []string {
	return []string{
		"-t", "nat", flag, "PREROUTING",
		"-i", iface,
		"-p", "tcp", "--dport", "80",
		"-j", "REDIRECT", "--to-port", strconv.Itoa(port),
	}
}

// RedirectCheckCommand exits zero when the port 80 redirect is installed.
func RedirectCheckCommand(iface string, port int) Command {
	return Command{Name: "iptables", Args: redirectArgs("-C", iface, port)}
}

func RedirectCommand(iface string, port int) Command {
	return Command{Name: "iptables", Args: redirectArgs("-A", iface, port)}
}

// RebootCommand sleeps for delay (rounded up to whole seconds) then reboots.
func RebootCommand(delay time.Duration) Command {
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 0 {
		secs = 0
	}
	return Command{Name: "sh", Args: []string{"-c", fmt.Sprintf("sleep %d; reboot -h now", secs)}}
}

// ParseDeviceStatus extracts wifi devices in the connected or disconnected
// state from nmcli terse output (DEVICE:TYPE:STATE per line).
func ParseDeviceStatus(out []byte) []string {
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		f := splitTerse(line)
		if len(f) < 3 || f[1] != "wifi" {
			continue
		}
		switch f[2] {
		case "connected", "disconnected", "connected (externally)":
			names = append(names, f[0])
		}
	}
	return names
}

// splitTerse splits on ':' honouring nmcli's backslash escapes.
func splitTerse(line string) []string {
	var fields []string
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			b.WriteByte(line[i])
		case c == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	return append(fields, b.String())
}
