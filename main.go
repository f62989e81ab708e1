package main

import (
	"os"

	"github.com/fresco-hpc/fresco-etl/cmd"
)

func main() {
	os.Exit(int(cmd.Execute()))
}
