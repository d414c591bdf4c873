// Package response classifies HTTP responses returned by webhook destinations and
// derives retry hints from them.
package response
