package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/junbin-yang/coapd/pkg/coap/endpoint"
	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/resource"
	"github.com/junbin-yang/coapd/pkg/frame"
	"github.com/junbin-yang/coapd/pkg/utils/config"
	"github.com/junbin-yang/coapd/pkg/utils/logger"
)

func main() {
	cfg := config.Parse()

	if err := frame.InitCoapServer(cfg); err != nil {
		fmt.Printf("failed to start coapd: %v\n", err)
		os.Exit(1)
	}
	registerBuiltinResources(frame.GetEndpoint())

	logger.Infof("coapd %s listening on [%s]:%d", config.VERSION, cfg.Bind.Address, cfg.Bind.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("coapd received shutdown signal")
	frame.DeinitCoapServer()
}

// registerBuiltinResources wires the server-side resources coapd exposes
// out of the box: a /status probe useful for smoke-testing a
// deployment over CoAP. Resource discovery (well-known/core) is out of
// scope for this daemon.
func registerBuiltinResources(ep *endpoint.Endpoint) {
	ep.AddResource("/status", handleStatus, nil, nil)
}

func handleStatus(req *message.Message, peer *net.UDPAddr, respond resource.Responder) {
	resp := message.New(message.ACK, message.Content)
	resp.Payload = []byte("ok")
	_ = respond(resp)
}
