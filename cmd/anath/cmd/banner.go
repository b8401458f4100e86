package cmd

import (
	"fmt"
)

// Version is stamped at build time.
var Version = "dev"

const banner = `
                       _   _
    /\                | | | |
   /  \   _ __   __ _ | |_| |__
  / /\ \ | '_ \ / _` + "`" + ` || __| '_ \
 / ____ \| | | | (_| || |_| | | |
/_/    \_\_| |_|\__,_| \__|_| |_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Internal Certificate Authority - Version %s\x1b[0m\n\n", Version)
}
