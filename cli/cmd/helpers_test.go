package cmd

import (
	lodelibrary "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/llmer/log"
)

func lodeFSFactory(dir string) lodelibrary.StoreFactory {
	return lodelibrary.NewFSFactory(dir)
}

func nopLogger() *log.Logger {
	return log.Nop()
}
