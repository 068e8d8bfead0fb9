// Package audio plays synthesized 16-bit PCM through the system audio device
// using oto/v3, and provides a simulated output for tests and headless runs.
package audio
