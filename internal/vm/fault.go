package vm

import "pintoscore/internal/kernelerr"

// HandleFault resolves a page fault at page for owner: if a
// supplemental entry exists the page is loaded and mapped in, per
// spec.md §4.7; otherwise the fault is a genuine invalid access and
// ESEGV is returned for the caller to terminate the faulting process
// with, per spec.md §9 (DESIGN.md #4).
func HandleFault(owner *Owner, page uintptr) error {
	ok, err := owner.SPT.Load(owner, page)
	if err != nil {
		return err
	}
	if !ok {
		return kernelerr.ESEGV
	}
	return nil
}
