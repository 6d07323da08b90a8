// Package environment identifies the host this tool runs on: the
// distribution from /etc/os-release, the hostname, the kernel and
// whether we are privileged enough to read everything we archive.
package environment

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	osReleasePath     = "/etc/os-release"
	kernelReleasePath = "/proc/sys/kernel/osrelease"
)

// Injectable for tests.
var (
	osReleaseFile     = osReleasePath
	kernelReleaseFile = kernelReleasePath
	getEUIDFunc       = os.Geteuid
	hostnameFunc      = os.Hostname
)

// Info describes the detected host.
type Info struct {
	Hostname string
	// DistroID is the os-release ID field, e.g. "debian", "arch".
	DistroID string
	// DistroName is the PRETTY_NAME field, for logs and reports.
	DistroName string
	Kernel     string
}

// Detect collects host information. Detection never fails hard: fields
// that cannot be read are left empty and the caller decides how much
// identity it needs.
func Detect() *Info {
	info := &Info{}
	if hostname, err := hostnameFunc(); err == nil {
		info.Hostname = hostname
	}
	if id, pretty, err := readOSRelease(osReleaseFile); err == nil {
		info.DistroID = id
		info.DistroName = pretty
	}
	if release, err := os.ReadFile(kernelReleaseFile); err == nil {
		info.Kernel = strings.TrimSpace(string(release))
	}
	return info
}

// RequireRoot returns an error when the effective UID is not 0. A
// full-system archive read as an unprivileged user would silently skip
// most of the files it exists to protect.
func RequireRoot() error {
	if euid := getEUIDFunc(); euid != 0 {
		return fmt.Errorf("must run as root, effective UID is %d", euid)
	}
	return nil
}

// readOSRelease parses the ID and PRETTY_NAME fields.
func readOSRelease(path string) (id, pretty string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			id = value
		case "PRETTY_NAME":
			pretty = value
		}
	}
	return id, pretty, scanner.Err()
}
