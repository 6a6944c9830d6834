package main

import (
	"github.com/sirupsen/logrus"
	"github.com/thand-io/azure-sdk/cmd/azsdk/cli"
)

func main() {
	if err := cli.GetCommandOptions().Execute(); err != nil {
		logrus.Fatalf("Failed to execute command: %v", err)
	}
}
