package cli

import (
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/config"
	"duxnet.io/node/internal/node"
)

var (
	n        *node.Node
	initOnce sync.Once
	initErr  error
)

// ensureNode lazily constructs the single node.Node shared by every
// subcommand in this process, on first use by any subcommand's RunE.
func ensureNode() error {
	initOnce.Do(func() {
		logger := log.New()
		logger.SetLevel(log.WarnLevel)
		cfg, err := config.Load(os.Getenv("DUXNET_ENV"))
		if err != nil {
			initErr = err
			return
		}
		n, initErr = node.New(cfg, logger)
	})
	return initErr
}
