//go:build !linux

package netif

import "errors"

func newNetlinkDriver() (LinkDriver, error) {
	return nil, errors.New("netif: netlink driver requires linux")
}
