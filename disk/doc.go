// Package disk models a block device for minithreads.
//
// ReadBlock and WriteBlock block the calling minithread until the request
// completes. Requests are handed to a batching worker, outside the
// minithread system, which services them in block order, and signals
// completion by posting an interrupt. Recently used blocks are kept in a
// small write-through Cache.
package disk
