// Command faceauth drives the enrollment and sign-in workflows against a
// running gateway, using a directory of still images as the camera.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
