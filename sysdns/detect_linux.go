//go:build linux && !android

package sysdns

import (
	"bufio"
	"os"
	"strings"

	"github.com/apex/log"
)

// managerType is the DNS management stack hinted at by resolv.conf.
type managerType int

const (
	unknownManager managerType = iota
	systemdResolvedManager
	networkManagerManager
	fileManager
)

// detectManagerFromFile reads /etc/resolv.conf and infers the managing
// stack from the generator comments at the top of the file.
func detectManagerFromFile() managerType {
	file, err := os.Open(defaultResolvConfPath)
	if err != nil {
		return unknownManager
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		text := scanner.Text()
		if len(text) == 0 {
			continue
		}
		if text[0] != '#' {
			return fileManager
		}
		if strings.Contains(text, "NetworkManager") {
			return networkManagerManager
		}
		if strings.Contains(text, "systemd-resolved") {
			return systemdResolvedManager
		}
	}

	return fileManager
}

func (m managerType) String() string {
	switch m {
	case systemdResolvedManager:
		return "systemd-resolved"
	case networkManagerManager:
		return "NetworkManager"
	case fileManager:
		return "file"
	default:
		return "unknown"
	}
}

// Detect picks the provider for this host. NetworkManager over D-Bus is
// used when the process is privileged enough to write connection profiles
// directly; otherwise mutations go through nmcli under a single pkexec
// elevation per operation.
func Detect() Provider {
	hint := detectManagerFromFile()
	log.Debugf("sysdns: resolv.conf suggests %s", hint)

	if !IsNetworkManagerAvailable() {
		log.Warnf("sysdns: NetworkManager not reachable on the system bus; falling back to nmcli")
		return NewNMCommandProvider()
	}

	if os.Geteuid() == 0 {
		log.Debugf("sysdns: running privileged, using the NetworkManager D-Bus provider")
		return NewBusProvider()
	}

	log.Debugf("sysdns: using nmcli with pkexec elevation")
	return NewNMCommandProvider()
}
