// Package stunutil discovers the host's public address over STUN.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// ErrNoServers is returned when no STUN server is configured.
var ErrNoServers = errors.New("no STUN servers provided")

// PublicHost returns the public IP address of this host as seen by the first
// STUN server that answers. Servers are tried in order.
func PublicHost(ctx context.Context, servers []string, timeout time.Duration) (string, error) {
	if len(servers) == 0 {
		return "", ErrNoServers
	}

	var lastErr error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, timeout)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", server, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		host, err := hostOf(addr)
		if err != nil {
			lastErr = err
			continue
		}
		return host, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("STUN probe failed")
	}
	return "", lastErr
}

// hostOf strips the port from a mapped address. Unbracketed IPv6 with a
// trailing port and bare hosts are accepted too.
func hostOf(addr string) (string, error) {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "", fmt.Errorf("empty mapped address")
	}
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h, nil
	}
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				if ip := net.ParseIP(a[:last]); ip != nil {
					return ip.String(), nil
				}
			}
		}
		return strings.Trim(a, "[]"), nil
	}
	return a, nil
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 2)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
