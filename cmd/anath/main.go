package main

import "github.com/AnathPKI/anath-server-sub001/cmd/anath/cmd"

func main() {
	cmd.Execute()
}
