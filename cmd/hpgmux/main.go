package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for "hpgmux", the SPARTN correction
 *		multiplexer for u-blox high precision GNSS receivers.
 *
 *---------------------------------------------------------------*/

import (
	hpgmux "github.com/doismellburning/hpgmux/src"
)

func main() {
	hpgmux.HpgMuxMain()
}
