package p2p

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// mdnsServiceName is the DNS-SD service type used for local-network peer
// discovery (§2, EnableMDNS), grounded on pkg/p2pnet/mdns.go.
const mdnsServiceName = "_fuelnet-p2p._udp"

const (
	mdnsBrowseInterval  = 30 * time.Second
	mdnsBrowseTimeout   = 10 * time.Second
	mdnsConnectTimeout  = 5 * time.Second
	mdnsAddrTTL         = 10 * time.Minute
	dnsaddrTXTPrefix    = "dnsaddr="
)

// mdnsDiscovery advertises this node on the LAN and dials whatever peers
// it finds there. It is a self-contained, optional discovery source
// layered alongside the DHT (§4.4); EnableMDNS toggles its construction.
type mdnsDiscovery struct {
	host   host.Host
	server *zeroconf.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newMDNSDiscovery(ctx context.Context, h host.Host) (*mdnsDiscovery, error) {
	md := &mdnsDiscovery{host: h}
	md.ctx, md.cancel = context.WithCancel(ctx)

	if err := md.startServer(); err != nil {
		md.cancel()

		return nil, err
	}

	md.wg.Add(1)

	go md.browseLoop()

	return md, nil
}

func (md *mdnsDiscovery) startServer() error {
	addrs, err := md.host.Network().InterfaceListenAddresses()
	if err != nil {
		return err //nolint:wrapcheck
	}

	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: md.host.ID(), Addrs: addrs})
	if err != nil {
		return err //nolint:wrapcheck
	}

	txts := make([]string, 0, len(p2pAddrs))
	for _, a := range p2pAddrs {
		txts = append(txts, dnsaddrTXTPrefix+a.String())
	}

	name := randomInstanceName()

	server, err := zeroconf.RegisterProxy(name, mdnsServiceName, "local.", 4001, name, []string{"127.0.0.1"}, txts, nil)
	if err != nil {
		return err //nolint:wrapcheck
	}

	md.server = server

	return nil
}

func (md *mdnsDiscovery) browseLoop() {
	defer md.wg.Done()

	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()

	md.runBrowse()

	for {
		select {
		case <-md.ctx.Done():
			return
		case <-ticker.C:
			md.runBrowse()
		}
	}
}

func (md *mdnsDiscovery) runBrowse() {
	ctx, cancel := context.WithTimeout(md.ctx, mdnsBrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)

	go func() {
		for entry := range entries {
			md.handleEntry(entry)
		}
	}()

	_ = zeroconf.Browse(ctx, mdnsServiceName, "local.", entries)
}

func (md *mdnsDiscovery) handleEntry(entry *zeroconf.ServiceEntry) {
	addrs := make([]ma.Multiaddr, 0, len(entry.Text))

	for _, txt := range entry.Text {
		if !strings.HasPrefix(txt, dnsaddrTXTPrefix) {
			continue
		}

		addr, err := ma.NewMultiaddr(txt[len(dnsaddrTXTPrefix):])
		if err != nil {
			continue
		}

		addrs = append(addrs, addr)
	}

	if len(addrs) == 0 {
		return
	}

	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return
	}

	for _, info := range infos {
		if info.ID == md.host.ID() {
			continue
		}

		md.host.Peerstore().AddAddrs(info.ID, info.Addrs, mdnsAddrTTL)

		go func(info peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(md.ctx, mdnsConnectTimeout)
			defer cancel()

			_ = md.host.Connect(ctx, info)
		}(info)
	}
}

func (md *mdnsDiscovery) close() {
	md.cancel()

	if md.server != nil {
		md.server.Shutdown()
	}

	md.wg.Wait()
}

func randomInstanceName() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	b := make([]byte, 24)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))] //nolint:gosec
	}

	return string(b)
}
