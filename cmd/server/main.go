package main

import (
	"context"
	"log"
	"os"

	"github.com/vkuskov/meeseng/internal/buildinfo"
	"github.com/vkuskov/meeseng/internal/server"
	"github.com/vkuskov/meeseng/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
