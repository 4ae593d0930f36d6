package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/fordpass-bridge/cmd/fordpass-bridge/app"
)

func main() {
	app.NewApp().Run()
}
