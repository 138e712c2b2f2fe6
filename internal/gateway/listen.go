// ABOUTME: Listener setup for the gateway: plain TCP, or a Tailscale tsnet node
// ABOUTME: On the tailnet HTTP is served plain, with Tailscale certs, or through Funnel

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// Fixed tailnet ports. server.grpc_addr and server.http_addr do not apply there.
const (
	tailnetGRPCPort  = ":50051"
	tailnetHTTPPort  = ":80"
	tailnetHTTPSPort = ":443"
)

type listeners struct {
	grpc net.Listener
	http net.Listener
}

func (l listeners) close() {
	for _, ln := range []net.Listener{l.grpc, l.http} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

func (g *Gateway) listen(ctx context.Context) (listeners, error) {
	if g.config.Tailscale.Enabled {
		return g.listenTailnet(ctx)
	}
	return g.listenTCP()
}

func (g *Gateway) listenTCP() (listeners, error) {
	var ls listeners
	var err error
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr)

	if ls.grpc, err = net.Listen("tcp", g.config.Server.GRPCAddr); err != nil {
		return ls, fmt.Errorf("listening on gRPC address: %w", err)
	}
	if ls.http, err = net.Listen("tcp", g.config.Server.HTTPAddr); err != nil {
		ls.close()
		return listeners{}, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ls, nil
}

func (g *Gateway) listenTailnet(ctx context.Context) (ls listeners, err error) {
	ts := g.config.Tailscale
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server addresses are ignored on the tailnet",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr)
	}

	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return ls, err
	}
	authKey := ts.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return ls, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       dir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
	}
	defer func() {
		if err != nil {
			ls.close()
			_ = g.closeTailnet()
		}
	}()

	g.logger.Info("starting tailscale node", "hostname", ts.Hostname, "state_dir", dir, "ephemeral", ts.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return ls, fmt.Errorf("starting tailscale: %w", err)
	}
	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", ts.Hostname, "tailscale_ip", ip, "dns_name", dnsName)

	if ls.grpc, err = g.tsnetServer.Listen("tcp", tailnetGRPCPort); err != nil {
		return ls, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	switch {
	case ts.Funnel:
		g.logger.Info("serving HTTP through tailscale funnel", "port", tailnetHTTPSPort)
		ls.http, err = g.tsnetServer.ListenFunnel("tcp", tailnetHTTPSPort)
	case ts.HTTPS:
		g.logger.Info("serving HTTPS with tailscale certs", "port", tailnetHTTPSPort)
		ls.http, err = g.listenTailnetTLS()
	default:
		ls.http, err = g.tsnetServer.Listen("tcp", tailnetHTTPPort)
	}
	if err != nil {
		return ls, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ls, nil
}

func (g *Gateway) listenTailnetTLS() (net.Listener, error) {
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	ln, err := g.tsnetServer.Listen("tcp", tailnetHTTPSPort)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (g *Gateway) closeTailnet() error {
	if g.tsnetServer == nil {
		return nil
	}
	err := g.tsnetServer.Close()
	g.tsnetServer = nil
	return err
}

// tailnetStateDir returns the configured state dir, or one under the user's
// data directory. The directory is created.
func tailnetStateDir(configured string) (string, error) {
	dir := configured
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir): %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "fieldnet", "tailscale")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating tailscale state dir: %w", err)
	}
	return dir, nil
}
