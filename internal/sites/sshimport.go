package sites

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSSHCommand parses a site editor's pasted "ssh [-p <port>]
// [<user>@]<host>" input, per spec.md §6's SSH command import contract.
// Remaining flags are ignored.
func ParseSSHCommand(cmd string) (host string, port int, user string, err error) {
	fields := strings.Fields(strings.TrimSpace(cmd))
	port = 22

	i := 0
	if len(fields) > 0 && fields[0] == "ssh" {
		i = 1
	}

	var target string
	for i < len(fields) {
		switch {
		case fields[i] == "-p" && i+1 < len(fields):
			p, convErr := strconv.Atoi(fields[i+1])
			if convErr != nil {
				return "", 0, "", fmt.Errorf("invalid port in ssh command: %q", fields[i+1])
			}
			port = p
			i += 2
		case strings.HasPrefix(fields[i], "-"):
			// Unknown flag: ignored, per spec.md §6.
			i++
		default:
			target = fields[i]
			i++
		}
	}

	if target == "" {
		return "", 0, "", fmt.Errorf("no host found in ssh command: %q", cmd)
	}

	if idx := strings.Index(target, "@"); idx >= 0 {
		user = target[:idx]
		host = target[idx+1:]
	} else {
		host = target
	}

	if host == "" {
		return "", 0, "", fmt.Errorf("no host found in ssh command: %q", cmd)
	}
	return host, port, user, nil
}
