package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/tientuk3/DensoToXDF/pkg/models"
	"github.com/tientuk3/DensoToXDF/pkg/scanner"
	"github.com/tientuk3/DensoToXDF/pkg/xdf"
)

func main() {
	filename := flag.String("file", "", "ECU firmware binary to read")
	outFile := flag.String("out", "", "XDF definition file to write")
	offsetArg := flag.String("offset", "", "Offset of the map lookup table, decimal or 0x hex (found automatically when omitted)")
	flag.Parse()

	if *filename == "" || *outFile == "" {
		fmt.Println("Usage: DensoToXDF -file <firmware.bin> -out <maps.xdf> [-offset 0x28000]")
		os.Exit(1)
	}

	image, err := os.ReadFile(*filename)
	if err != nil {
		pterm.Error.Printf("Failed to read %s: %v\n", *filename, err)
		os.Exit(1)
	}

	offset, err := resolveOffset(image, *offsetArg)
	if err != nil {
		pterm.Error.Printf("%v\n", err)
		os.Exit(1)
	}

	spinner, _ := pterm.DefaultSpinner.Start("Scanning map lookup table...")
	session, err := scanner.Scan(image, offset)
	if err != nil {
		spinner.Fail("Scan failed")
		pterm.Error.Printf("%v\n", err)
		os.Exit(1)
	}
	spinner.Success(fmt.Sprintf("Scanned lookup table at 0x%X", offset))

	scanner.DisplayResults(session)

	defs := xdf.Emit(session.Maps, len(image))
	if err := xdf.WriteFile(*outFile, len(image), defs, time.Now()); err != nil {
		pterm.Error.Printf("Failed to write %s: %v\n", *outFile, err)
		os.Exit(1)
	}

	count2D, count3D := 0, 0
	for _, m := range session.Maps {
		if m.Kind == models.Map3D {
			count3D++
		} else {
			count2D++
		}
	}
	pterm.Info.Printf("%d 2D maps and %d 3D maps identified\n", count2D, count3D)
	pterm.Success.Printf("Results written to %s\n", *outFile)
}

// resolveOffset parses the user-supplied table offset, or discovers it by
// scanning the image when none was given.
func resolveOffset(image []byte, arg string) (int, error) {
	if arg != "" {
		offset, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q: %w", arg, err)
		}
		return int(offset), nil
	}

	spinner, _ := pterm.DefaultSpinner.Start("Searching for map lookup table...")
	offset, err := scanner.FindTableOffset(image)
	if err != nil {
		spinner.Fail("Lookup table not found")
		return 0, fmt.Errorf("%w; provide it with -offset", err)
	}
	spinner.Success(fmt.Sprintf("Found lookup table offset: 0x%X", offset))
	return offset, nil
}
