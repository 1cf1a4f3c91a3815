package main

import (
	"fmt"
	"os"

	"payments/internal/server"
)

func main() {
	role := "api"
	if len(os.Args) > 1 {
		role = os.Args[1]
	}
	switch role {
	case "api":
		server.ApiInit()
	case "worker":
		server.WorkerInit()
	default:
		fmt.Println("usage: payments [api|worker]")
		os.Exit(2)
	}
}
