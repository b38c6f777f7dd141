// Command patterntest runs checkerboard detection on one image and prints the
// corners and the sample gate verdict.
package main

import (
	"flag"
	"fmt"
	"os"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/capture"
	"stereo-calib/internal/config"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/pattern"
)

func main() {
	imagePath := flag.String("image", "", "Path to image (TIFF, PNG, or JPEG)")
	rows := flag.Int("rows", config.DefaultPatternRows, "Interior corner rows")
	cols := flag.Int("cols", config.DefaultPatternCols, "Interior corner columns")
	verbose := flag.Bool("v", false, "Print every corner")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: patterntest -image <path> [-rows 6] [-cols 9] [-v]")
		os.Exit(1)
	}

	f, err := frame.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded image: %dx%d pixels\n", f.Width, f.Height)

	cfg := config.Default().WithPattern(*rows, *cols)
	geom := pattern.Geometry{Rows: cfg.PatternRows, Cols: cfg.PatternCols}
	params := pattern.DefaultDetectorParams()
	fmt.Printf("Pattern: %dx%d interior corners\n", geom.Cols, geom.Rows)
	fmt.Printf("Subpixel: window %d, %d iterations, eps %.2f\n", params.HalfWindow, params.MaxIterations, params.Epsilon)

	buf := capture.NewBuffers(f.Width, f.Height)
	defer buf.Close()
	identity := calib.BuildDistortionMap(calib.GuessCameraMatrix(f.Width, f.Height), calib.Distortion{}, f.Width, f.Height)
	if err := buf.LoadMap(identity); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load map: %v\n", err)
		os.Exit(1)
	}
	if err := buf.Apply(f); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ingest image: %v\n", err)
		os.Exit(1)
	}

	det := pattern.NewChessboardDetector(geom, params)
	defer det.Close()

	p, found := det.Detect(buf.Gray())
	if !found {
		fmt.Println("\nNo checkerboard found")
		os.Exit(2)
	}

	outline := p.Outline(geom)
	fmt.Printf("\nFound %d corners\n", len(p))
	fmt.Printf("Outline: (%.1f,%.1f) (%.1f,%.1f) (%.1f,%.1f) (%.1f,%.1f)\n",
		outline[0].X, outline[0].Y, outline[1].X, outline[1].Y,
		outline[2].X, outline[2].Y, outline[3].X, outline[3].Y)

	if *verbose {
		fmt.Printf("\n%4s %4s %10s %10s\n", "Row", "Col", "X", "Y")
		for r := 0; r < geom.Rows; r++ {
			for c := 0; c < geom.Cols; c++ {
				pt := p.At(geom, r, c)
				fmt.Printf("%4d %4d %10.2f %10.2f\n", r, c, pt.X, pt.Y)
			}
		}
	}

	v := capture.NewGate(cfg).Evaluate(p, nil, nil)
	if v.Accepted() {
		fmt.Println("\nGate: accepted")
		return
	}
	fmt.Printf("\nGate: rejected by %s check (%.2f, limit %.2f)\n", v.Failed, v.Value, v.Limit)
}
