// Package machine is the per-host runtime: it owns every node spawned
// onto this machine, drives them on a fixed tick cadence, reads the
// data-plane UDP socket, and answers the control API over TCP. It is
// the production counterpart of the sim package's in-process Machine —
// same node.MachineController capability, real sockets and wall-clock
// ticks instead of a caller-driven loop.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package machine

import (
	"fmt"
	"net"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/koreiklein/distzero/cmn"
	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/link"
	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/program"
	"github.com/koreiklein/distzero/wire"
)

// msgBufSize bounds one data-plane datagram; a NetworkMessage that does
// not fit is a protocol error upstream, not something to fragment here.
const msgBufSize = 64 * 1024

// Options configures a Machine. Zero-value addresses bind the default
// ports from cmn.Conf on every interface.
type Options struct {
	ID          string
	ControlAddr string
	DataAddr    string

	// CtlConnLimit bounds concurrent control-API connections; 0 means
	// the default of 64.
	CtlConnLimit int
}

type ctlCall struct {
	req   CtlRequest
	reply chan CtlResponse
}

// Machine hosts nodes behind real sockets. All node state is owned by
// the run-loop goroutine: socket readers and control connections hand
// work to it over channels and never touch a node directly.
type Machine struct {
	id string

	nodes map[string]node.Node
	now   time.Duration

	// peers maps a remote machine's controller id to its data-plane
	// address; a send to a controller not present here has no transport
	// and is dropped.
	peers map[string]*net.UDPAddr

	// frontend is the machine's DNS/load-balancer registry: domain name
	// to local input node.
	frontend map[string]string

	udp      *net.UDPConn
	tcp      net.Listener
	inbox    chan wire.NetworkMessage
	ctl      chan ctlCall
	deferred chan func()
	stop     chan struct{}
	done     chan struct{}
}

// Start binds the machine's sockets, seeds the id generator from the
// machine id, and begins the run loop.
func Start(opts Options) (*Machine, error) {
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("machine-%d", time.Now().UnixNano())
	}
	cos.InitIDGen(xxhash.ChecksumString64S(id, 0))

	controlAddr := opts.ControlAddr
	if controlAddr == "" {
		controlAddr = fmt.Sprintf(":%d", cmn.Conf.ControlTCPPort)
	}
	dataAddr := opts.DataAddr
	if dataAddr == "" {
		dataAddr = fmt.Sprintf(":%d", cmn.Conf.DataUDPPort)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", dataAddr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	tcp, err := listenControl(controlAddr, opts.CtlConnLimit)
	if err != nil {
		udp.Close()
		return nil, err
	}

	m := &Machine{
		id:       id,
		nodes:    make(map[string]node.Node),
		peers:    make(map[string]*net.UDPAddr),
		frontend: make(map[string]string),
		udp:      udp,
		tcp:      tcp,
		inbox:    make(chan wire.NetworkMessage, 1024),
		ctl:      make(chan ctlCall),
		deferred: make(chan func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	nlog.SetRole(id)
	nlog.Infof("machine %s up: control %s, data %s", id, tcp.Addr(), udp.LocalAddr())

	go m.readData()
	go m.acceptControl()
	go m.run()
	return m, nil
}

func (m *Machine) ID() string { return m.id }

func (m *Machine) ControlAddr() net.Addr { return m.tcp.Addr() }
func (m *Machine) DataAddr() net.Addr    { return m.udp.LocalAddr() }

// Shutdown stops the run loop and closes both sockets.
func (m *Machine) Shutdown() {
	close(m.stop)
	m.udp.Close()
	m.tcp.Close()
	<-m.done
}

// Bootstrap spawns the root of every dataset and every link in p onto
// this machine, returning the handles of the dataset roots by name. It
// runs on the run-loop goroutine like every other state-touching call.
func (m *Machine) Bootstrap(p *program.Program) map[string]node.Handle {
	roots := make(map[string]node.Handle, len(p.Datasets))
	m.onLoop(func() {
		for _, d := range p.Datasets {
			roots[d.Name] = m.SpawnNode(d.ToConfig(), node.Handle{})
		}
		for _, l := range p.Links {
			m.SpawnNode(l.ToConfig([]string{l.Source.ID}, []string{l.Target.ID}), node.Handle{})
		}
	})
	return roots
}

// onLoop runs fn on the run-loop goroutine and waits for it; the only
// safe way for an outside goroutine to touch node state.
func (m *Machine) onLoop(fn func()) {
	done := make(chan struct{})
	m.deferred <- func() {
		fn()
		close(done)
	}
	<-done
}

// run is the machine's single-threaded run loop: one tick per
// StepLength elapses time in every node; between ticks it drains the
// data-plane inbox and control calls.
func (m *Machine) run() {
	defer close(m.done)
	ticker := time.NewTicker(cmn.Conf.StepLength)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case nm := <-m.inbox:
			m.deliver(nm)
		case call := <-m.ctl:
			call.reply <- m.handleCtl(call.req)
		case fn := <-m.deferred:
			fn()
		case <-ticker.C:
			m.now += cmn.Conf.StepLength
			for _, n := range m.nodes {
				n.Elapse(cmn.Conf.StepLength)
			}
		}
	}
}

func (m *Machine) deliver(nm wire.NetworkMessage) {
	n, ok := m.nodes[nm.ReceiverID]
	if !ok {
		nlog.Warningf("machine %s: message %q for unknown node %s dropped", m.id, nm.Envelope.Kind, nm.ReceiverID)
		return
	}
	n.Receive(nm.Envelope, node.Handle{NodeID: nm.SenderID})
}

// readData drains the data-plane UDP socket; each datagram carries one
// NetworkMessage envelope addressed to one local node.
func (m *Machine) readData() {
	buf := make([]byte, msgBufSize)
	for {
		n, _, err := m.udp.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.stop:
				return
			default:
			}
			nlog.Errorf("machine %s: data-plane read: %v", m.id, err)
			return
		}
		nm, err := wire.UnmarshalNetworkMessage(buf[:n])
		if err != nil {
			nlog.Warningf("machine %s: malformed datagram dropped: %v", m.id, err)
			continue
		}
		select {
		case m.inbox <- nm:
		case <-m.stop:
			return
		}
	}
}

// Send implements node.MachineController. Local receivers are
// dispatched synchronously, exactly as the sim machine does; remote
// receivers are marshalled onto the data plane. A receiver whose
// controller has no registered transport is logged and dropped.
func (m *Machine) Send(receiver node.Handle, msg wire.Envelope, sender node.Handle) {
	if n, ok := m.nodes[receiver.NodeID]; ok {
		n.Receive(msg, sender)
		return
	}
	peer, ok := m.peers[receiver.ControllerID]
	if !ok {
		nlog.Warningf("machine %s: %v", m.id, cos.NewErrNoTransport(receiver.NodeID))
		return
	}
	data, err := wire.MarshalNetworkMessage(wire.NetworkMessage{
		SenderID:   sender.NodeID,
		ReceiverID: receiver.NodeID,
		Envelope:   msg,
	})
	if err != nil {
		nlog.Errorf("machine %s: marshalling message to %s: %v", m.id, receiver.NodeID, err)
		return
	}
	if _, err := m.udp.WriteToUDP(data, peer); err != nil {
		nlog.Warningf("machine %s: data-plane write to %s: %v", m.id, peer, err)
	}
}

// SpawnNode implements node.MachineController; every node spawns onto
// this machine (placement across machines is the caller's concern,
// expressed by which machine's controller it invokes).
func (m *Machine) SpawnNode(cfg any, onMachine node.Handle) node.Handle {
	var n node.Node
	switch c := cfg.(type) {
	case dataset.Config:
		n = dataset.New(c, m, m)
	case link.Config:
		n = link.New(c, m)
	case migration.Config:
		n = migration.New(c, m)
	default:
		panic(cos.NewErrInternal("machine %s: unrecognized node config type %T", m.id, cfg))
	}
	id := n.Handle().NodeID
	m.nodes[id] = n
	n.Initialize()
	return node.Handle{NodeID: id, ControllerID: m.id}
}

func (m *Machine) NewHandleFor(localNodeID, remoteNodeID string) node.Handle {
	return node.Handle{NodeID: localNodeID, ControllerID: m.id}
}

func (m *Machine) Now() time.Duration { return m.now }
