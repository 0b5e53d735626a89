// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package broker

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Credentials is a resolved (user, password) pair for one logical cluster.
type Credentials struct {
	User     string
	Password string
}

// Config is the explicit fallback credential source, read by callers from
// their own configuration loader and handed to New.
type Config struct {
	ReplicaUser, ReplicaPassword   string
	TermstoreUser, TermstorePass   string
	ReplicaHostTemplate            string // e.g. "%s.analytics.db.svc.wikimedia.cloud"
	TermstoreHost                  string
	ToolDatabaseUser, ToolDatabasePass string
	ToolDatabaseHost               string
}

// wellKnownCredentialsPath mirrors the Wikimedia Toolforge convention of a
// per-user "replica.my.cnf" file with [client] user=/password= lines,
// resolved before falling back to explicit config.
func wellKnownCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "replica.my.cnf")
}

// resolveCredentials tries the well-known file, then explicit config, then
// gives up with ErrCredential.
func resolveCredentials(explicitUser, explicitPassword string) (*Credentials, error) {
	if path := wellKnownCredentialsPath(); path != "" {
		if creds, err := readMyCnf(path); err == nil {
			return creds, nil
		}
	}
	if explicitUser != "" {
		return &Credentials{User: explicitUser, Password: explicitPassword}, nil
	}
	return nil, ErrCredential
}

// readMyCnf parses the small subset of my.cnf syntax Toolforge actually
// writes: a single [client] section with user=/password= lines.
func readMyCnf(path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	creds := &Credentials{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "user":
			creds.User = value
		case "password":
			creds.Password = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if creds.User == "" {
		return nil, ErrCredential
	}
	return creds, nil
}
