/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

import "golang.org/x/sys/unix"

// unixDup duplicates fd via the real dup(2) syscall rather than relying on
// os.File's GC finalizer to keep a second handle alive.
func unixDup(fd int) (int, error) {
	return unix.Dup(fd)
}
