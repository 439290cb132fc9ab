package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vizlink/vizlink/pkg/endpoint/websocket"
	"github.com/vizlink/vizlink/pkg/jsonrpc"
	"github.com/vizlink/vizlink/pkg/log"
)

const (
	host = "127.0.0.1"
	port = 8080
)

func main() {
	logger := log.NewStdLogger(log.LevelInfo)

	connector := websocket.NewConnector(websocket.ConnectorConfig{
		Logger: logger,
	})
	if !connector.Connect(fmt.Sprintf("ws://%s:%d%s", host, port, websocket.DefaultPath)) {
		os.Exit(1)
	}
	defer connector.Stop()

	if !connector.WaitConnection(2 * time.Second) {
		logger.Error("timed out waiting for connection")
		os.Exit(1)
	}

	rpc := jsonrpc.New(jsonrpc.Config{
		Endpoint: connector,
		Logger:   logger,
	})
	defer rpc.Close()

	rpc.Notify("print", map[string]string{"hello": "from the echo client"})

	for i := 0; i < 10; i++ {
		call, cancel := rpc.Call("echo", map[string]int{"count": i})

		result, rpcErr, ok := call.Wait(time.Second)
		if !ok {
			cancel()
			logger.Warn("call timed out")
			continue
		}
		if rpcErr != nil {
			logger.Error(rpcErr.Error())
			continue
		}
		logger.Info("echo result: " + string(result))

		time.Sleep(50 * time.Millisecond)
	}
}
