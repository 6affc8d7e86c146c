package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	List the RXM-PMP frames in a receiver capture.
 *
 * Description:	Reads raw receiver output, e.g. saved from the L-band
 *		receiver with cat, and prints one line for every RXM-PMP
 *		frame: the size of the correction that would be passed on
 *		and the Eb/N0 reported with it.  Other frames and NMEA are
 *		skipped.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func PMPDumpMain() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - List RXM-PMP frames in a receiver capture.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [capture-file]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Reads standard input if no file is given.\n")
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	var all = pflag.BoolP("all", "a", false, "Also list frames other than RXM-PMP.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	var in io.Reader = os.Stdin

	if pflag.NArg() > 0 {
		var f, err = os.Open(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		defer f.Close()

		in = f
	}

	var err = PMPDump(in, os.Stdout, *all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// PMPDump does the work of PMPDumpMain.
func PMPDump(in io.Reader, out io.Writer, all bool) error {
	var scanner = bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 2*MaxCorrectionSize)
	scanner.Split(ScanUBX)

	var frames, pmpCount, bytes int

	for scanner.Scan() {
		frames++

		var frame = scanner.Bytes()

		var msg, err = ParsePMP(frame)
		if err != nil {
			if all {
				var f, _ = DecodeUBX(frame)
				fmt.Fprintf(out, "%5d  %s  %d bytes\n", frames, f, len(frame))
			}

			continue
		}

		var c, cErr = ReconstructPMP(msg)
		if cErr != nil {
			fmt.Fprintf(out, "%5d  RXM-PMP  dropped: %s\n", frames, cErr)
			continue
		}

		pmpCount++
		bytes += c.Len()

		fmt.Fprintf(out, "%5d  RXM-PMP  %d bytes  Eb/N0 %.1f dB\n", frames, c.Len(), msg.EbN0())

		c.Release()
	}

	var scanErr = scanner.Err()
	if scanErr != nil {
		return scanErr
	}

	fmt.Fprintf(out, "%d frames, %d RXM-PMP, %d correction bytes\n", frames, pmpCount, bytes)

	return nil
}
