package main

import (
	"os"

	"github.com/Youxikong/mpv-menu-plugin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
