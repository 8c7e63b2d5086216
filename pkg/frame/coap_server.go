// Package frame owns the process-wide lifecycle of the CoAP endpoint:
// one guarded singleton instance, with idempotent init/deinit.
package frame

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/junbin-yang/coapd/pkg/coap/endpoint"
	"github.com/junbin-yang/coapd/pkg/coap/transport"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
	"github.com/junbin-yang/coapd/pkg/utils/config"
	"github.com/junbin-yang/coapd/pkg/utils/logger"
)

var (
	gIsInit   bool
	gMutex    sync.Mutex
	gEndpoint *endpoint.Endpoint
)

// InitCoapServer binds the configured address, starts the CoAP
// endpoint, and joins the configured multicast group if one is set.
func InitCoapServer(cfg *config.Config) error {
	gMutex.Lock()
	defer gMutex.Unlock()

	if gIsInit {
		return nil
	}

	logger.Info("[Frame] starting coap endpoint")

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Bind.Address), Port: cfg.Bind.Port}
	tr, err := transport.Listen(addr)
	if err != nil {
		return errors.Wrapf(err, "bind %v", addr)
	}

	if cfg.MulticastGroup != "" {
		if err := tr.JoinMulticastGroup(cfg.MulticastIface, net.ParseIP(cfg.MulticastGroup)); err != nil {
			_ = tr.Close()
			return errors.Wrapf(err, "join multicast group %s", cfg.MulticastGroup)
		}
		logger.Infof("[Frame] joined multicast group %s", cfg.MulticastGroup)
	}

	params := txparams.Params{
		AckTimeout:         cfg.AckTimeout(),
		AckRandomFactorNum: cfg.Transmission.AckRandomFactorNum,
		AckRandomFactorDen: cfg.Transmission.AckRandomFactorDen,
		MaxRetransmit:      cfg.Transmission.MaxRetransmit,
	}
	if err := params.Validate(); err != nil {
		_ = tr.Close()
		return errors.Wrap(err, "invalid transmission parameters")
	}

	ep := endpoint.New(tr, params)
	if err := ep.Start(); err != nil {
		_ = tr.Close()
		return errors.Wrap(err, "endpoint start failed")
	}
	if err := ep.SetMaxBlockSize(cfg.MaxBlockSZX); err != nil {
		_ = ep.Stop()
		return errors.Wrap(err, "invalid max block size")
	}

	gEndpoint = ep
	gIsInit = true
	logger.Info("[Frame] coap endpoint started")
	return nil
}

// GetEndpoint returns the process-wide endpoint, or nil if not started.
func GetEndpoint() *endpoint.Endpoint {
	gMutex.Lock()
	defer gMutex.Unlock()
	return gEndpoint
}

// GetServerIsInit reports whether the endpoint has been started.
func GetServerIsInit() bool {
	gMutex.Lock()
	defer gMutex.Unlock()
	return gIsInit
}

// DeinitCoapServer stops the endpoint and releases the bound socket.
func DeinitCoapServer() {
	gMutex.Lock()
	defer gMutex.Unlock()

	if !gIsInit {
		return
	}

	logger.Info("[Frame] stopping coap endpoint")
	if gEndpoint != nil {
		_ = gEndpoint.Stop()
		gEndpoint = nil
	}
	gIsInit = false
	logger.Info("[Frame] coap endpoint stopped")
}
