package netif

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner runs a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// IPRoute2Driver drives links through the ip(8) command.
type IPRoute2Driver struct {
	bin string
	run CommandRunner
}

// NewIPRoute2Driver returns a driver invoking bin (usually "ip").
func NewIPRoute2Driver(bin string) *IPRoute2Driver {
	return &IPRoute2Driver{bin: bin, run: execRunner}
}

func (d *IPRoute2Driver) ip(ctx context.Context, args ...string) ([]byte, error) {
	out, err := d.run(ctx, d.bin, args...)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", d.bin, strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

func (d *IPRoute2Driver) AddDummy(ctx context.Context, name string) error {
	out, err := d.ip(ctx, "link", "add", name, "type", "dummy")
	if err != nil && bytes.Contains(out, []byte("File exists")) {
		return ErrLinkExists
	}
	return err
}

func (d *IPRoute2Driver) SetUp(ctx context.Context, name string) error {
	_, err := d.ip(ctx, "link", "set", name, "up")
	return err
}

func (d *IPRoute2Driver) Delete(ctx context.Context, name string) error {
	out, err := d.ip(ctx, "link", "delete", name)
	if err != nil && linkMissing(out) {
		return nil
	}
	return err
}

func (d *IPRoute2Driver) Exists(ctx context.Context, name string) (bool, error) {
	out, err := d.ip(ctx, "link", "show", name)
	if err != nil {
		if linkMissing(out) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *IPRoute2Driver) DefaultRouteInterface(ctx context.Context) (string, error) {
	out, err := d.ip(ctx, "route", "show", "default")
	if err != nil {
		return "", err
	}
	return parseDefaultRoute(out)
}

func linkMissing(out []byte) bool {
	return bytes.Contains(out, []byte("does not exist")) ||
		bytes.Contains(out, []byte("Cannot find device"))
}

// parseDefaultRoute extracts the device from `ip route show default` output,
// e.g. "default via 172.17.0.1 dev eth0".
func parseDefaultRoute(out []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "default" {
			continue
		}
		for i := 1; i < len(fields)-1; i++ {
			if fields[i] == "dev" {
				return fields[i+1], nil
			}
		}
	}
	return "", ErrNoDefaultRoute
}
