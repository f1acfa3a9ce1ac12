//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultsDomain holds every non-secret NYAY setting under its dotted key,
// e.g. `defaults read com.nyaysaathi.app llm.backend`.
const defaultsDomain = "com.nyaysaathi.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nyaysaathi-data"
	}
	return filepath.Join(home, "Library", "Application Support", "nyaysaathi")
}

type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

// errNoDefault marks a key the domain does not hold; `defaults` exits 1 for it.
var errNoDefault = errors.New("no such default")

func (b defaultsBackend) run(verb, key string, extra ...string) (string, error) {
	args := append([]string{verb, b.domain, key}, extra...)
	out, err := exec.Command("defaults", args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	var exitErr *exec.ExitError
	if verb != "write" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", errNoDefault
	}
	return "", fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, text)
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	v, err := b.run("read", key)
	switch {
	case errors.Is(err, errNoDefault):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return v, true, nil
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
	}
	return n, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b defaultsBackend) Delete(key string) error {
	if _, err := b.run("delete", key); err != nil && !errors.Is(err, errNoDefault) {
		return err
	}
	return nil
}
