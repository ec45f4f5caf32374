package cli

import (
	"fmt"
	"strings"
)

// parseLocal parses a "fwd --local"/"proxy --local" value: "[+][IP:]PORT".
// A leading "+" requests TLS termination on this listener; a bare port
// (no colon) implies host "0.0.0.0".
func parseLocal(raw string) (addr string, tlsEnabled bool, err error) {
	raw, tlsEnabled = stripPlus(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty address")
	}
	if !strings.Contains(raw, ":") {
		return "0.0.0.0:" + raw, tlsEnabled, nil
	}
	return raw, tlsEnabled, nil
}

// parseRemote parses a "fwd --remote"/"proxy --remote" value: "[+]IP:PORT".
// A leading "+" requests TLS origination on this dial.
func parseRemote(raw string) (addr string, tlsEnabled bool, err error) {
	raw, tlsEnabled = stripPlus(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty address")
	}
	if !strings.Contains(raw, ":") {
		return "", false, fmt.Errorf("remote address %q must be IP:PORT", raw)
	}
	return raw, tlsEnabled, nil
}

func stripPlus(raw string) (string, bool) {
	if strings.HasPrefix(raw, "+") {
		return raw[1:], true
	}
	return raw, false
}
