// Command scansim simulates LiDAR sweeps over a described scene and
// exports the resulting point clouds.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
