package main

import "os"

// notifyTrigger is a no-op; Windows has no SIGUSR1
func notifyTrigger(c chan<- os.Signal) {}
