package main

import "github.com/audiolibrelab/callcapture/cmd"

func main() {
	cmd.Execute()
}
