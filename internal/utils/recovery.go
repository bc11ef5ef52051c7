package utils

import (
	log "github.com/sirupsen/logrus"
)

// RunWithRecovery runs fn in a goroutine and turns any panic into an error
// log instead of taking the process down.
func RunWithRecovery(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("prefix", "RunWithRecovery").Errorf("recovered from panic: %v", r)
			}
		}()
		fn()
	}()
}
