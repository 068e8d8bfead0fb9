// Package cache stores synthesized PCM so replayed and prefetched lines do
// not hit the synthesizer twice. It has an in-memory LRU tier and a
// zstd-compressed disk tier that survives restarts.
package cache
