package main

import (
	utils "uploadflow/internal"
	"uploadflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		utils.Shutdown(err.Error())
	}
}
