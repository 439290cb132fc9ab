package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vizlink/vizlink/pkg/endpoint/websocket"
	"github.com/vizlink/vizlink/pkg/jsonrpc"
	"github.com/vizlink/vizlink/pkg/log"
)

const (
	addr = "127.0.0.1"
	port = 8080
)

func main() {
	logger := log.NewStdLogger(log.LevelInfo)

	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{
		Logger: logger,
	})
	if !acceptor.Serve(addr, port) {
		os.Exit(1)
	}
	defer acceptor.Stop()

	rpc := jsonrpc.New(jsonrpc.Config{
		Endpoint: acceptor,
		Logger:   logger,
	})
	defer rpc.Close()

	rpc.RegisterHandler("echo", func(params json.RawMessage) (any, error) {
		return params, nil
	})
	rpc.RegisterNotification("print", func(params json.RawMessage) {
		fmt.Println(string(params))
	})

	logger.Info(fmt.Sprintf("echo server listening on ws://%s:%d%s", addr, acceptor.Port(), websocket.DefaultPath))

	select {}
}
