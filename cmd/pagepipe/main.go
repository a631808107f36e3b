// Command pagepipe inspects comic archives and renders pages through the
// page pipeline without a window.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
