package main

import "github.com/audiolibrelab/humscore/cmd"

func main() {
	cmd.Execute()
}
