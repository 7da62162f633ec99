//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyTrigger relays SIGUSR1 as a manual refresh request
func notifyTrigger(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGUSR1)
}
