package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "train":
			if err := RunTrainCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  vgan train [options] <image-dir>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train       Train a VGAN on a directory of images")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  vgan train -resolution=64 -batch=32 ./data/faces")
	fmt.Println("  vgan train -loss=hinge -ic=0.1 -spectral-norm=true ./data/bedrooms")
	fmt.Println()
	fmt.Println("Run 'vgan train -h' for the full option list.")
}
