// Package kernelerr defines the error taxonomy shared by the storage
// and virtual-memory core: a small signed error code, in the style of
// the teacher's pervasive defs.Err_t return values, rather than an
// allocated error per failure.
package kernelerr

import "fmt"

// Err is a kernel-style error code. The zero value means success.
type Err int

const (
	// OK indicates success. Operations that return (n int, err Err)
	// use err == OK to mean the call completed without failure.
	OK Err = 0

	// ENOMEM indicates a physical frame, cache entry, or SPTE could
	// not be allocated.
	ENOMEM Err = -1
	// ENOSPC indicates the free-map or swap bitmap is exhausted.
	ENOSPC Err = -2
	// EFAULT indicates an invalid or unmapped user address.
	EFAULT Err = -3
	// EINVAL indicates a malformed argument (bad mmap address, bad fd).
	EINVAL Err = -4
	// ENOENT indicates a missing file or directory entry.
	ENOENT Err = -5
	// EEXIST indicates a create against an existing name.
	EEXIST Err = -6
	// EMFILE indicates the per-process descriptor table is full.
	EMFILE Err = -7
	// ESEGV indicates a fault that cannot be resolved by any
	// supplemental-page-table entry or mapped region; the caller
	// should terminate the faulting process with exit status -1,
	// per spec.md's resolution of the check_valid_user_pointer
	// ambiguity (see DESIGN.md open question 4).
	ESEGV Err = -8
)

var names = map[Err]string{
	OK:     "ok",
	ENOMEM: "out of memory",
	ENOSPC: "no space left on device",
	EFAULT: "bad address",
	EINVAL: "invalid argument",
	ENOENT: "no such file",
	EEXIST: "file exists",
	EMFILE: "too many open files",
	ESEGV:  "segmentation fault",
}

// Error implements the error interface so an Err composes with
// fmt.Errorf("%w", ...) and errors.Is at the CLI boundary.
func (e Err) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("kernelerr: unknown code %d", int(e))
}

// Ok reports whether e represents success.
func (e Err) Ok() bool { return e == OK }
