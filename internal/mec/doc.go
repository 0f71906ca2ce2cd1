// Package mec implements the MEC app: it waits for a UE start request,
// acknowledges it, arms an alert source for entering the requested circle,
// forwards the enter alert, re-arms for leaving and forwards the leave alert.
//
// Sessions are sequential. Each one owns its alert source, and with it the
// Location service connection, and releases it on every exit path.
package mec
