package reconciler

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/corralhq/corral/pkg/runtime"
	"github.com/corralhq/corral/pkg/types"
)

// emailSanitizer strips everything but letters, digits and spaces, so
// an email can safely appear as a path component.
var emailSanitizer = regexp.MustCompile(`[^a-zA-Z0-9 ]`)

// substitutePlaceholders expands {email} and {userid} in a mount path.
func substitutePlaceholders(path string, user *types.User) string {
	path = strings.ReplaceAll(path, "{email}", emailSanitizer.ReplaceAllString(user.Email, ""))
	path = strings.ReplaceAll(path, "{userid}", strconv.FormatInt(user.ID, 10))
	return path
}

// materializeMounts resolves the user's role mounts for this computer
// and prepares the host directories. Containers run as an unprivileged
// user, so the directories are chowned to the configured owner and
// opened up; a mount that cannot be prepared fails the launch.
func (r *Reconciler) materializeMounts(user *types.User, computerID int64) ([]runtime.Bind, error) {
	mounts, err := r.resolver.Mounts(user.ID, computerID)
	if err != nil {
		return nil, err
	}

	var binds []runtime.Bind
	for _, mount := range mounts {
		hostPath := substitutePlaceholders(mount.HostPath, user)
		containerPath := substitutePlaceholders(mount.ContainerPath, user)

		if err := os.MkdirAll(hostPath, 0o777); err != nil {
			return nil, fmt.Errorf("creating %s: %w", hostPath, err)
		}
		if r.cfg.MountOwnerUID > 0 || r.cfg.MountOwnerGID > 0 {
			if err := os.Chown(hostPath, r.cfg.MountOwnerUID, r.cfg.MountOwnerGID); err != nil {
				return nil, fmt.Errorf("chowning %s: %w", hostPath, err)
			}
		}
		if err := os.Chmod(hostPath, 0o777); err != nil {
			return nil, fmt.Errorf("chmodding %s: %w", hostPath, err)
		}

		binds = append(binds, runtime.Bind{
			HostPath:      hostPath,
			ContainerPath: containerPath,
			ReadOnly:      mount.ReadOnly,
		})
	}
	return binds, nil
}
