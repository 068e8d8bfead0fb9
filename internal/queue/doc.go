// Package queue orders synthesis work so the line about to be spoken is
// produced before lines that are only being prefetched.
package queue
