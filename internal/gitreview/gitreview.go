// Package gitreview parses the Gerrit `.gitreview` file format: a small
// `[gerrit]` section naming the host, project, and optional port/ssh_host
// a submodule should be pushed to when git-toprepo's own config doesn't
// say otherwise (spec.md §4.7, push-URL resolution fallback chain).
package gitreview

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Config is one parsed `.gitreview` file.
type Config struct {
	Host    string
	SSHHost string // defaults to Host when not given explicitly
	Project string
	Port    int
	HasPort bool
}

// Parse reads a `.gitreview` blob. Host and Project are required; any
// other recognized key is optional. A line that is neither a recognized
// `key=value` pair nor exactly `[gerrit]` is a hard parse error — unlike
// gitmodules.Parse, .gitreview has no history of tolerating garbage.
func Parse(data []byte) (Config, error) {
	var cfg Config
	var sshHost string
	haveHost, haveProject := false, false

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "[gerrit]" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("gitreview: could not parse line %q in .gitreview", line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "host":
			cfg.Host = value
			haveHost = true
		case "ssh_host":
			sshHost = value
		case "project":
			cfg.Project = value
			haveProject = true
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return Config{}, fmt.Errorf("gitreview: invalid port %q: %w", value, err)
			}
			cfg.Port = port
			cfg.HasPort = true
		default:
			return Config{}, fmt.Errorf("gitreview: could not parse line %q in .gitreview", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("gitreview: %w", err)
	}

	if !haveHost {
		return Config{}, fmt.Errorf("gitreview: missing required \"host\" key")
	}
	if !haveProject {
		return Config{}, fmt.Errorf("gitreview: missing required \"project\" key")
	}

	if sshHost != "" {
		cfg.SSHHost = sshHost
	} else {
		cfg.SSHHost = cfg.Host
	}

	return cfg, nil
}
