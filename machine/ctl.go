/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package machine

import (
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/netutil"

	"github.com/koreiklein/distzero/cmn/cos"
	"github.com/koreiklein/distzero/cmn/nlog"
	"github.com/koreiklein/distzero/dataset"
	"github.com/koreiklein/distzero/node"
	"github.com/koreiklein/distzero/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// The control API is a single request-reply protocol over TCP: one JSON
// request per connection, one JSON response back, connection closed.
const (
	ReqCreateKidConfig = "api_create_kid_config"
	ReqNewTransport    = "api_new_transport"
	ReqGetOutputState  = "api_get_output_state"
	ReqRouteDNS        = "api_route_dns"
	ReqGetCapacity     = "api_get_capacity"
	ReqSpawnNewSenders = "api_spawn_new_senders"
	ReqKillNode        = "api_kill_node"
)

const (
	StatusOK      = "ok"
	StatusFailure = "failure"

	ctlIOTimeout        = 10 * time.Second
	defaultCtlConnLimit = 64
)

type CtlRequest struct {
	Type string              `json:"type"`
	Body jsoniter.RawMessage `json:"body,omitempty"`
}

type CtlResponse struct {
	Status string              `json:"status"`
	Data   jsoniter.RawMessage `json:"data,omitempty"`
	Reason string              `json:"reason,omitempty"`
}

func okResp(data any) CtlResponse {
	raw, err := json.Marshal(data)
	if err != nil {
		return failResp(err)
	}
	return CtlResponse{Status: StatusOK, Data: raw}
}

func failResp(err error) CtlResponse {
	return CtlResponse{Status: StatusFailure, Reason: err.Error()}
}

// listenControl binds the control port, bounding concurrent connections
// the same defensive way the storage proxy bounds its own listener.
func listenControl(addr string, limit int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultCtlConnLimit
	}
	return netutil.LimitListener(l, limit), nil
}

func (m *Machine) acceptControl() {
	for {
		conn, err := m.tcp.Accept()
		if err != nil {
			select {
			case <-m.stop:
			default:
				nlog.Errorf("machine %s: control accept: %v", m.id, err)
			}
			return
		}
		go m.serveControl(conn)
	}
}

func (m *Machine) serveControl(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ctlIOTimeout))

	var req CtlRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(failResp(err))
		return
	}
	reply := make(chan CtlResponse, 1)
	select {
	case m.ctl <- ctlCall{req: req, reply: reply}:
	case <-m.stop:
		return
	}
	select {
	case resp := <-reply:
		_ = json.NewEncoder(conn).Encode(resp)
	case <-m.stop:
	}
}

// handleCtl runs on the run-loop goroutine, so it may touch node state
// freely.
func (m *Machine) handleCtl(req CtlRequest) CtlResponse {
	switch req.Type {
	case ReqCreateKidConfig:
		return m.ctlCreateKidConfig(req.Body)
	case ReqNewTransport:
		return m.ctlNewTransport(req.Body)
	case ReqGetOutputState:
		return m.ctlGetOutputState(req.Body)
	case ReqRouteDNS:
		return m.ctlRouteDNS(req.Body)
	case ReqGetCapacity:
		return m.ctlGetCapacity(req.Body)
	case ReqSpawnNewSenders:
		return m.ctlSpawnNewSenders(req.Body)
	case ReqKillNode:
		return m.ctlKillNode(req.Body)
	default:
		return failResp(cos.NewErrNotFound("control request type %q", req.Type))
	}
}

func (m *Machine) dataNode(id string) (*dataset.DataNode, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, cos.NewErrNotFound("node %s", id)
	}
	d, ok := n.(*dataset.DataNode)
	if !ok {
		return nil, cos.NewErrInternal("node %s is not a data node", id)
	}
	return d, nil
}

func decodeBody(body jsoniter.RawMessage, out any) error {
	if len(body) == 0 {
		return cos.NewErrInternal("request body is required")
	}
	return json.Unmarshal(body, out)
}

func (m *Machine) ctlCreateKidConfig(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		NodeID  string `json:"node_id"`
		KidName string `json:"kid_name"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	d, err := m.dataNode(args.NodeID)
	if err != nil {
		return failResp(err)
	}
	cfg, err := d.CreateKidConfig(args.KidName)
	if err != nil {
		return failResp(err)
	}
	return okResp(cfg)
}

func (m *Machine) ctlNewTransport(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		ControllerID string `json:"controller_id"`
		DataAddr     string `json:"data_addr"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	addr, err := net.ResolveUDPAddr("udp", args.DataAddr)
	if err != nil {
		return failResp(err)
	}
	m.peers[args.ControllerID] = addr
	nlog.Infof("machine %s: transport to %s via %s", m.id, args.ControllerID, addr)
	return okResp(nil)
}

func (m *Machine) ctlGetOutputState(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		NodeID string `json:"node_id"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	d, err := m.dataNode(args.NodeID)
	if err != nil {
		return failResp(err)
	}
	return okResp(d.State())
}

func (m *Machine) ctlRouteDNS(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		Domain string `json:"domain"`
		NodeID string `json:"node_id"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	if _, ok := m.nodes[args.NodeID]; !ok {
		return failResp(cos.NewErrNotFound("node %s", args.NodeID))
	}
	m.frontend[args.Domain] = args.NodeID
	return okResp(nil)
}

func (m *Machine) ctlGetCapacity(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		NodeID string `json:"node_id"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	d, err := m.dataNode(args.NodeID)
	if err != nil {
		return failResp(err)
	}
	avail := d.Availability()
	if avail <= 0 {
		return failResp(cos.NewErrNoCapacity("node %s can not place a new leaf", args.NodeID))
	}
	return okResp(avail)
}

func (m *Machine) ctlSpawnNewSenders(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		NodeID string `json:"node_id"`
		N      int    `json:"n"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	d, err := m.dataNode(args.NodeID)
	if err != nil {
		return failResp(err)
	}
	ids := make([]string, 0, args.N)
	for i := 0; i < args.N; i++ {
		cfg, err := d.CreateKidConfig("sender")
		if err != nil {
			return failResp(err)
		}
		h := m.SpawnNode(cfg, node.Handle{})
		ids = append(ids, h.NodeID)
	}
	return okResp(ids)
}

func (m *Machine) ctlKillNode(body jsoniter.RawMessage) CtlResponse {
	var args struct {
		NodeID string `json:"node_id"`
	}
	if err := decodeBody(body, &args); err != nil {
		return failResp(err)
	}
	n, ok := m.nodes[args.NodeID]
	if !ok {
		return failResp(cos.NewErrNotFound("node %s", args.NodeID))
	}
	n.Receive(wire.Envelope{Kind: wire.KindKillNode}, node.Handle{NodeID: m.id})
	delete(m.nodes, args.NodeID)
	return okResp(nil)
}
