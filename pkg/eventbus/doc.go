// Package eventbus provides a typed in-process publish/subscribe bus for
// fire-and-observe notifications. Slow subscribers lose values instead of
// blocking publishers.
package eventbus
