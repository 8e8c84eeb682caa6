package utils

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var QuitChan = make(chan os.Signal, 1)

// NotifyQuit routes SIGINT and SIGTERM to QuitChan until stop is called
func NotifyQuit() (stop func()) {
	signal.Notify(QuitChan, syscall.SIGINT, syscall.SIGTERM)
	return func() { signal.Stop(QuitChan) }
}

func Shutdown(reason string) {
	fmt.Fprintf(os.Stderr, "🚨 %s\n", reason)
	os.Exit(1)
}
