package client

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultServerInfoPath = "serverinfo.dat"
	DefaultHost           = "localhost"
)

// LoadServerHost returns the first line of the file at path, trimmed.
// A missing, unreadable, or blank file yields DefaultHost.
func LoadServerHost(path string) string {
	if strings.TrimSpace(path) == "" {
		path = DefaultServerInfoPath
	}
	f, err := os.Open(path)
	if err != nil {
		return DefaultHost
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return DefaultHost
	}
	host := strings.TrimSpace(scanner.Text())
	if host == "" {
		return DefaultHost
	}
	return host
}

// Address joins host and port, defaulting both.
func Address(host string, port int) string {
	if strings.TrimSpace(host) == "" {
		host = DefaultHost
	}
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
