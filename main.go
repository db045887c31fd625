package main

import (
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/reactor/cmd"
)

func main() {
	defer func() {
		if panicResp := recover(); panicResp != nil {
			logrus.Errorf("got an panic err: %v", panicResp)
		}
	}()
	cmd.Execute()
}
