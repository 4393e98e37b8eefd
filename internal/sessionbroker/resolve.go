package sessionbroker

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const selfCgroup = "/proc/self/cgroup"

// ResolveCurrentSession returns the id of the login session the calling
// process belongs to. XDG_SESSION_ID wins when set; otherwise the session
// scope unit in the process's cgroup path is used, which is how logind
// itself attributes processes to sessions.
func ResolveCurrentSession() (string, error) {
	return resolveSession(os.Getenv, selfCgroup)
}

func resolveSession(getenv func(string) string, cgroupPath string) (string, error) {
	if id := strings.TrimSpace(getenv("XDG_SESSION_ID")); id != "" {
		return id, nil
	}

	f, err := os.Open(cgroupPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// hierarchy-ID:controllers:path
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		if id := sessionFromCgroup(parts[2]); id != "" {
			return id, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrNoSession, cgroupPath, err)
	}
	return "", ErrNoSession
}

func sessionFromCgroup(path string) string {
	for _, elem := range strings.Split(path, "/") {
		if strings.HasPrefix(elem, "session-") && strings.HasSuffix(elem, ".scope") {
			id := strings.TrimSuffix(strings.TrimPrefix(elem, "session-"), ".scope")
			if id != "" {
				return id
			}
		}
	}
	return ""
}
