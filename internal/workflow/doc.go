// Package workflow drives each user's conversation through the operation
// state machines.
//
// The Engine receives transport-neutral events (text and file uploads),
// applies them to the user's session under that user's lock, and emits
// prompts through a Renderer. Slow work (downloads, page counting, the
// batch settle delay, and transforms) runs outside the lock; results are
// applied only if the session generation captured beforehand is still
// current, so a cancel always wins over late work.
//
// Flows:
//
//	merge, compress, convert-*: idle -> awaiting-files -> ready-to-dispatch -> idle
//	delete: idle -> awaiting-single-file -> awaiting-range -> ready-to-dispatch -> idle
//	split:  idle -> awaiting-single-file -> awaiting-range -> awaiting-range-mode -> ready-to-dispatch -> idle
//
// Rejected input re-prompts and leaves the session untouched. Failed
// transforms return the user to the menu with a generic notice.
package workflow
