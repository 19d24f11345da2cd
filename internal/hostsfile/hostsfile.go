// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hostsfile maintains the management hosts file that resolves
// subcloud region names to their management addresses, and nudges
// dnsmasq when it changes.
package hostsfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// Entry is one subcloud line of the hosts file.
type Entry struct {
	Region       string
	ManagementIP string
}

// Render produces the hosts file content: one line per subcloud,
// sorted by region so the output is reproducible.
func Render(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Region < sorted[j].Region })

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s %s\n", e.ManagementIP, e.Region)
	}
	return b.String()
}

// Update rewrites the hosts file if its rendered content differs from
// what is on disk, using a temp file and rename so readers never see a
// partial write. Returns whether the file changed.
func Update(path string, entries []Entry) (bool, error) {
	rendered := Render(entries)

	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	if err == nil && string(current) == rendered {
		return false, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, err
	}
	return true, nil
}

// Signaler tells the local resolver to reload after a hosts file
// change.
type Signaler interface {
	// Reload signals the resolver to re-read its hosts file.
	Reload() error
}

// DnsmasqSignaler reloads dnsmasq by sending SIGHUP to the process
// named in its pidfile.
type DnsmasqSignaler struct {
	PidfilePath string
}

func (s DnsmasqSignaler) Reload() error {
	raw, err := os.ReadFile(s.PidfilePath)
	if err != nil {
		return fmt.Errorf("dnsmasq pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("dnsmasq pidfile %q: %w", s.PidfilePath, err)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal dnsmasq pid %d: %w", pid, err)
	}
	return nil
}

// NopSignaler is the Signaler for deployments that manage the resolver
// elsewhere, and for tests.
type NopSignaler struct{}

func (NopSignaler) Reload() error { return nil }
