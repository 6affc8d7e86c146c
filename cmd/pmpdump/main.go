/* List the RXM-PMP frames in a receiver capture */
package main

import (
	hpgmux "github.com/doismellburning/hpgmux/src"
)

func main() {
	hpgmux.PMPDumpMain()
}
