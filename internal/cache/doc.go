// Package cache keeps synthesized audio so repeated requests for the same
// text, engine and voice parameters skip the upstream engine. Entries live in
// a memory LRU (L1) backed by a zstd-compressed directory on disk (L2).
package cache
