package main

import "github.com/hydra-network/hydra/cmd/hydrad"

func main() {
	hydrad.Execute()
}
