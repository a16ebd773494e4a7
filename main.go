package main

import (
	"fmt"
	"os"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
