// File: multiplexer/socket_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiplexer

import "os"

// removeIfSocket clears a stale Unix socket file left behind by a prior,
// uncleanly terminated multiplexer process.
func removeIfSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
