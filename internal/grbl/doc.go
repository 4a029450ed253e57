// Package grbl implements the Grbl/Smoothieware controller: a
// character-counting streaming engine, realtime single-byte commands, and
// a 250ms query timer for status and parser-state polling.
package grbl
